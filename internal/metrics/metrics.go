// Package metrics exposes the Prometheus collectors shared by ARP and CAP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by this service.
type Metrics struct {
	// ARP — batch queue (C3).
	QueueDepth        prometheus.Gauge
	QueueEnqueued     prometheus.Counter
	QueueDropped      *prometheus.CounterVec
	BatchesFlushed    *prometheus.CounterVec
	SpillFilesWritten prometheus.Counter

	// ARP — transport client (C4).
	SendAttemptsTotal *prometheus.CounterVec
	SendDuration      prometheus.Histogram

	// CAP — ingestion server (C5).
	EventsIngestedTotal  *prometheus.CounterVec
	EventsRejectedTotal  *prometheus.CounterVec
	BatchesIngestedTotal prometheus.Counter

	// CAP — key manager (C8).
	KeyRotationsTotal *prometheus.CounterVec

	// CAP — digest chain worker (C9).
	DigestTicksTotal  *prometheus.CounterVec
	DigestChainLength *prometheus.GaugeVec

	// CAP — verification service (C10).
	VerificationsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered against registerer. Pass
// prometheus.NewRegistry() in tests to avoid collisions with other suites.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arp_queue_depth",
			Help: "Current number of events buffered in the batch queue.",
		}),
		QueueEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arp_queue_enqueued_total",
			Help: "Total number of events accepted into the batch queue.",
		}),
		QueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arp_queue_dropped_total",
			Help: "Total number of events dropped, by reason.",
		}, []string{"reason"}),
		BatchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arp_batches_flushed_total",
			Help: "Total number of batches flushed from the queue, by trigger.",
		}, []string{"trigger"}),
		SpillFilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arp_spill_files_written_total",
			Help: "Total number of batches spilled to disk after retry exhaustion.",
		}),

		SendAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arp_send_attempts_total",
			Help: "Total number of transport send attempts, by outcome.",
		}, []string{"outcome"}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arp_send_duration_seconds",
			Help:    "Duration of a single batch send attempt.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		EventsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cap_events_ingested_total",
			Help: "Total number of events accepted by the ingestion server, by tenant.",
		}, []string{"tenant_id"}),
		EventsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cap_events_rejected_total",
			Help: "Total number of events rejected by the ingestion server, by reason.",
		}, []string{"reason"}),
		BatchesIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cap_batches_ingested_total",
			Help: "Total number of batches accepted by the ingestion server.",
		}),

		KeyRotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cap_key_rotations_total",
			Help: "Total number of key rotations, by tenant.",
		}, []string{"tenant_id"}),

		DigestTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cap_digest_ticks_total",
			Help: "Total number of digest chain worker ticks, by outcome.",
		}, []string{"outcome"}),
		DigestChainLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cap_digest_chain_length",
			Help: "Current length of the digest chain, by tenant.",
		}, []string{"tenant_id"}),

		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cap_verifications_total",
			Help: "Total number of verification RPC calls, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.QueueDepth,
			m.QueueEnqueued,
			m.QueueDropped,
			m.BatchesFlushed,
			m.SpillFilesWritten,
			m.SendAttemptsTotal,
			m.SendDuration,
			m.EventsIngestedTotal,
			m.EventsRejectedTotal,
			m.BatchesIngestedTotal,
			m.KeyRotationsTotal,
			m.DigestTicksTotal,
			m.DigestChainLength,
			m.VerificationsTotal,
		)
	}

	return m
}

// RecordSend records the outcome and latency of one transport send attempt.
func (m *Metrics) RecordSend(outcome string, d time.Duration) {
	m.SendAttemptsTotal.WithLabelValues(outcome).Inc()
	m.SendDuration.Observe(d.Seconds())
}

// RecordIngest records an accepted event for tenantID.
func (m *Metrics) RecordIngest(tenantID string) {
	m.EventsIngestedTotal.WithLabelValues(tenantID).Inc()
}

// RecordReject records a rejected event by reason code.
func (m *Metrics) RecordReject(reason string) {
	m.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDigestTick records one digest chain worker tick.
func (m *Metrics) RecordDigestTick(outcome string) {
	m.DigestTicksTotal.WithLabelValues(outcome).Inc()
}

// RecordVerification records one verification RPC call.
func (m *Metrics) RecordVerification(operation, outcome string) {
	m.VerificationsTotal.WithLabelValues(operation, outcome).Inc()
}
