// Package ingest implements the Ingestion Server (C5, spec §4.5): the CAP
// side of the ARP transport client's websocket connections. Each stream is
// served by one goroutine so acks are emitted strictly in receipt order.
package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/internal/cap/sink"
	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/internal/logging"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
	"github.com/R3E-Network/audit-core/pkg/auditproto"
)

const maxReadBytes = 8 * 1024 * 1024

// Server accepts ARP transport client connections and forwards validated
// batches to a Sink.
type Server struct {
	sink     sink.Sink
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	dedup    *dedupTracker

	// KnownTenant reports whether tenantID is provisioned. A nil func
	// accepts every tenant, the way a single-tenant deployment would.
	KnownTenant func(tenantID string) bool
}

// NewServer creates an ingestion Server writing accepted batches to s.
func NewServer(s sink.Sink, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		sink:    s,
		clock:   clk,
		logger:  logger,
		metrics: m,
		dedup:   newDedupTracker(dedupWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and serves PublishEvents batches for
// its lifetime, one goroutine per stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxReadBytes)

	ctx := r.Context()
	for {
		var batch auditproto.EventBatch
		if err := conn.ReadJSON(&batch); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if s.logger != nil {
					s.logger.WithContext(ctx).WithError(err).Debug("stream read ended")
				}
			}
			return
		}

		ack := s.handleBatch(ctx, batch)
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}

// handleBatch validates every event in batch, enriches it with the
// server-observed receipt time, forwards the accepted subset to the sink,
// and builds the per-event Ack.
func (s *Server) handleBatch(ctx context.Context, batch auditproto.EventBatch) auditproto.Ack {
	receivedAt := s.now()

	if s.KnownTenant != nil && !s.KnownTenant(batch.TenantID) {
		rejections := make([]auditproto.Rejection, len(batch.Events))
		for i, raw := range batch.Events {
			rejections[i] = auditproto.Rejection{EventID: raw.EventID, Reason: auditproto.ReasonUnknownTenant}
			s.recordReject(string(auditproto.ReasonUnknownTenant))
		}
		return auditproto.Ack{BatchID: batch.BatchID, RejectedCount: uint32(len(rejections)), Rejections: rejections}
	}

	accepted := make([]event.AuditEvent, 0, len(batch.Events))
	var rejections []auditproto.Rejection

	for _, raw := range batch.Events {
		e, reason, err := decodeEvent(raw, receivedAt)
		if err != nil {
			rejections = append(rejections, auditproto.Rejection{EventID: raw.EventID, Reason: reason})
			s.recordReject(string(reason))
			continue
		}
		accepted = append(accepted, e)
	}

	ack := auditproto.Ack{
		BatchID:       batch.BatchID,
		RejectedCount: uint32(len(rejections)),
		Rejections:    rejections,
	}

	if len(accepted) == 0 {
		return ack
	}

	// Idempotency key is (tenant_id, batch_id) (spec §4.4/§6): a batch
	// already seen within the dedup window is a retry (ARP retry, or a
	// spilled batch replayed by transport.FileSpillStore.Replay) whose
	// events are already durable — re-sending it to the sink would
	// double-count them in the next digest's events_hash.
	if s.dedup.checkAndMark(batch.TenantID, batch.BatchID, receivedAt) {
		ack.AcceptedCount = uint32(len(accepted))
		return ack
	}

	sinkAck, err := s.sink.Send(ctx, sink.Batch{
		TenantID:   batch.TenantID,
		BatchID:    batch.BatchID,
		Events:     accepted,
		ReceivedAt: receivedAt,
	})
	if err != nil || !sinkAck.Success {
		// The sink did not store the batch, so a retry of it must not be
		// taken for a duplicate.
		s.dedup.mu.Lock()
		delete(s.dedup.seenAt, dedupKey{tenant: batch.TenantID, batchID: batch.BatchID})
		s.dedup.mu.Unlock()
		for _, e := range accepted {
			ack.Rejections = append(ack.Rejections, auditproto.Rejection{EventID: e.EventID, Reason: auditproto.ReasonInternal})
			s.recordReject(string(auditproto.ReasonInternal))
		}
		ack.RejectedCount = uint32(len(ack.Rejections))
		return ack
	}

	ack.AcceptedCount = uint32(len(accepted))
	for _, e := range accepted {
		s.recordIngest(e.TenantID)
	}
	if s.metrics != nil {
		s.metrics.BatchesIngestedTotal.Inc()
	}
	return ack
}

// decodeEvent parses and validates one wire RawEvent, classifying any
// failure into the Ack's ReasonCode taxonomy (spec §7).
func decodeEvent(raw auditproto.RawEvent, now time.Time) (event.AuditEvent, auditproto.ReasonCode, error) {
	eventTime, err := time.Parse(time.RFC3339Nano, raw.EventTime)
	if err != nil {
		return event.AuditEvent{}, auditproto.ReasonMalformed, apierrors.Malformed("event_time not RFC3339Nano")
	}

	resource, err := hrn.Parse(raw.Resource)
	if err != nil {
		return event.AuditEvent{}, auditproto.ReasonMalformed, apierrors.Malformed("resource not a valid HRN")
	}

	e, err := event.New(event.AuditEvent{
		EventID:           raw.EventID,
		EventTime:         eventTime,
		EventSource:       raw.EventSource,
		EventName:         raw.EventName,
		EventCategory:     event.Category(raw.EventCategory),
		ReadOnly:          raw.ReadOnly,
		TenantID:          raw.TenantID,
		Resource:          resource,
		SourceIP:          raw.SourceIP,
		UserAgent:         raw.UserAgent,
		UserID:            raw.UserID,
		TraceID:           raw.TraceID,
		HTTPMethod:        raw.HTTPMethod,
		HTTPStatus:        raw.HTTPStatus,
		ErrorCode:         raw.ErrorCode,
		ErrorMessage:      raw.ErrorMessage,
		RequestParameters: raw.RequestParameters,
		ResponseElements:  raw.ResponseElements,
		AdditionalData:    raw.AdditionalData,
	}, now)
	if err != nil {
		return event.AuditEvent{}, reasonFor(err), err
	}
	return e, "", nil
}

// reasonFor maps a validation error's apierrors.Code to its wire ReasonCode.
func reasonFor(err error) auditproto.ReasonCode {
	apiErr, ok := apierrors.As(err)
	if !ok {
		return auditproto.ReasonInternal
	}
	switch apiErr.Code {
	case apierrors.CodeClockSkew:
		return auditproto.ReasonClockSkew
	case apierrors.CodePayloadTooLarge:
		return auditproto.ReasonPayloadTooLarge
	case apierrors.CodeUnknownTenant:
		return auditproto.ReasonUnknownTenant
	case apierrors.CodeMalformed:
		return auditproto.ReasonMalformed
	default:
		return auditproto.ReasonInternal
	}
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

func (s *Server) recordIngest(tenantID string) {
	if s.metrics != nil {
		s.metrics.RecordIngest(tenantID)
	}
}

func (s *Server) recordReject(reason string) {
	if s.metrics != nil {
		s.metrics.RecordReject(reason)
	}
}
