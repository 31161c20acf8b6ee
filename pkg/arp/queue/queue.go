// Package queue implements the bounded batch queue (C3, spec §4.3): a
// single dedicated flusher task owns draining a bounded FIFO of events,
// using a hybrid size/time flush policy, with backpressure and a
// spill-to-disk drain on shutdown.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// Batch is a flushed snapshot of up to BMax events, assigned the next
// monotonic batch_id.
type Batch struct {
	TenantID string
	BatchID  uint64
	Events   []event.AuditEvent
}

// Flusher hands a flushed Batch off to the transport client. Flush may
// block; the queue's single flusher goroutine is the only caller.
type Flusher interface {
	Flush(ctx context.Context, batch Batch) error
}

// SpillWriter persists batches the queue could not ship (a failed Flush, or
// TDrain elapsing during shutdown), so they can be replayed on next startup.
type SpillWriter interface {
	Spill(batch Batch) error
}

// Config configures a Queue, with spec §4.3 defaults.
type Config struct {
	TenantID string
	Capacity int           // N, default 100000
	BSize    int           // B, default 100
	BMax     int           // B_max, default 10000
	Interval time.Duration // T, default 100ms
	TDrain   time.Duration // default 5s
}

// DefaultConfig returns spec §4.3's defaults for the given tenant.
func DefaultConfig(tenantID string) Config {
	return Config{
		TenantID: tenantID,
		Capacity: 100000,
		BSize:    100,
		BMax:     10000,
		Interval: 100 * time.Millisecond,
		TDrain:   5 * time.Second,
	}
}

// Queue is a bounded FIFO with a hybrid size/time flush policy.
//
// State machine: Empty -> Filling -> (Size-trigger | Time-trigger) ->
// Flushing -> Filling, with a terminal Draining state entered on Close.
type Queue struct {
	cfg     Config
	clock   clock.Clock
	flusher Flusher
	spill   SpillWriter
	metrics *metrics.Metrics

	mu          sync.Mutex
	buf         []event.AuditEvent
	oldestEntry time.Time
	nextBatchID uint64
	draining    bool

	flushSignal chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

// New creates a Queue and starts its dedicated flusher goroutine.
func New(cfg Config, clk clock.Clock, flusher Flusher, spill SpillWriter, m *metrics.Metrics) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100000
	}
	if cfg.BSize <= 0 {
		cfg.BSize = 100
	}
	if cfg.BMax <= 0 {
		cfg.BMax = 10000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.TDrain <= 0 {
		cfg.TDrain = 5 * time.Second
	}

	q := &Queue{
		cfg:         cfg,
		clock:       clk,
		flusher:     flusher,
		spill:       spill,
		metrics:     m,
		flushSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

// Enqueue appends e to the queue. It is O(1) and never blocks on I/O;
// callers never suspend beyond the mutex's brief critical section.
func (q *Queue) Enqueue(e event.AuditEvent) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return apierrors.QueueFull(q.cfg.Capacity)
	}
	if len(q.buf) >= q.cfg.Capacity {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.QueueDropped.WithLabelValues("queue_full").Inc()
		}
		return apierrors.QueueFull(q.cfg.Capacity)
	}
	if len(q.buf) == 0 {
		q.oldestEntry = q.clock.Now()
	}
	q.buf = append(q.buf, e)
	size := len(q.buf)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueEnqueued.Inc()
		q.metrics.QueueDepth.Set(float64(size))
	}

	if size >= q.cfg.BSize {
		q.signalFlush()
	}

	return nil
}

func (q *Queue) signalFlush() {
	select {
	case q.flushSignal <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	ticker := q.clock.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			q.drain()
			return
		case <-ticker.C():
			q.tryFlush("time")
		case <-q.flushSignal:
			q.tryFlush("size")
		}
	}
}

// tryFlush takes a snapshot of up to BMax events (if any are present) and
// hands it to the Flusher. trigger labels the reason for metrics.
func (q *Queue) tryFlush(trigger string) {
	batch, ok := q.snapshot()
	if !ok {
		return
	}
	if q.metrics != nil {
		q.metrics.BatchesFlushed.WithLabelValues(trigger).Inc()
	}
	if err := q.flusher.Flush(context.Background(), batch); err != nil {
		q.spillBatch(batch)
	}
}

func (q *Queue) snapshot() (Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		return Batch{}, false
	}

	n := len(q.buf)
	if n > q.cfg.BMax {
		n = q.cfg.BMax
	}

	events := make([]event.AuditEvent, n)
	copy(events, q.buf[:n])
	q.buf = q.buf[n:]
	if len(q.buf) > 0 {
		q.oldestEntry = q.clock.Now()
	}

	q.nextBatchID++
	batch := Batch{
		TenantID: q.cfg.TenantID,
		BatchID:  q.nextBatchID,
		Events:   events,
	}

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.buf)))
	}

	return batch, true
}

// Close enters the Draining terminal state: remaining events are flushed
// within TDrain, any that cannot be shipped are spilled to disk, then the
// queue stops accepting further work.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	return nil
}

// drain runs on shutdown: repeatedly flushes until empty or TDrain elapses,
// spilling whatever remains.
func (q *Queue) drain() {
	deadline := q.clock.Now().Add(q.cfg.TDrain)

	for q.clock.Now().Before(deadline) {
		batch, ok := q.snapshot()
		if !ok {
			return
		}
		if err := q.flusher.Flush(context.Background(), batch); err != nil {
			q.spillBatch(batch)
			break
		}
	}

	for {
		batch, ok := q.snapshot()
		if !ok {
			return
		}
		q.spillBatch(batch)
	}
}

func (q *Queue) spillBatch(batch Batch) {
	if q.spill == nil {
		return
	}
	if err := q.spill.Spill(batch); err == nil && q.metrics != nil {
		q.metrics.SpillFilesWritten.Inc()
	}
}

// Depth returns the current number of buffered events, for tests and
// metrics scraping.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
