package chain

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/audit-core/internal/cap/eventstore"
	"github.com/R3E-Network/audit-core/internal/cap/keys"
	"github.com/R3E-Network/audit-core/internal/cap/signer"
	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/internal/logging"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// DefaultInterval is spec §4.9's default tick period.
const DefaultInterval = time.Hour

// Worker runs the per-tenant digest chain tick (spec §4.9) on a shared
// ticker, grounded on the teacher's marble.Worker ticker-loop shape but
// driven through the clock abstraction so ticks are deterministic in tests.
type Worker struct {
	store      Store
	events     eventstore.Store
	keyManager *keys.Manager
	clock      clock.Clock
	interval   time.Duration
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex // guards appendMu map (per-tenant chain-append mutex, spec §5)
	appendMu map[string]*sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// NewWorker constructs a digest chain Worker for one interval; a separate
// tenant set is supplied to Run.
func NewWorker(store Store, events eventstore.Store, keyManager *keys.Manager, clk clock.Clock, interval time.Duration, logger *logging.Logger, m *metrics.Metrics) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		store:      store,
		events:     events,
		keyManager: keyManager,
		clock:      clk,
		interval:   interval,
		logger:     logger,
		metrics:    m,
		appendMu:   make(map[string]*sync.Mutex),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (w *Worker) lockFor(tenant string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.appendMu[tenant]
	if !ok {
		l = &sync.Mutex{}
		w.appendMu[tenant] = l
	}
	return l
}

// Run ticks every interval, running one digest tick per tenant in tenants.
// It blocks until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context, tenants func() []string) {
	defer close(w.done)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C():
			for _, tenant := range tenants() {
				w.tick(ctx, tenant)
			}
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// Tick runs one digest tick for tenant directly; exported for tests and for
// an operator-triggered manual digest.
func (w *Worker) Tick(ctx context.Context, tenant string) error {
	return w.tick(ctx, tenant)
}

func (w *Worker) tick(ctx context.Context, tenant string) error {
	l := w.lockFor(tenant)
	l.Lock()
	defer l.Unlock()

	now := w.clock.Now().UTC()

	prev, hasPrev, err := w.store.Last(ctx, tenant)
	if err != nil {
		w.recordOutcome(ctx, tenant, "storage_error", err)
		return err
	}

	intervalStart := now.Add(-w.interval)
	var previousDigestHash [32]byte
	if hasPrev {
		intervalStart = prev.IntervalEnd
		h, err := PreviousHashOf(prev)
		if err != nil {
			w.recordOutcome(ctx, tenant, "storage_error", err)
			return err
		}
		previousDigestHash = h
	}

	stored, err := w.events.RangeByReceivedAt(ctx, tenant, intervalStart, now)
	if err != nil {
		w.recordOutcome(ctx, tenant, "storage_error", err)
		return err
	}

	events := make([]event.AuditEvent, 0, len(stored))
	for _, s := range stored {
		events = append(events, s.Event)
	}

	eventsHash, err := EventsHash(events)
	if err != nil {
		w.recordOutcome(ctx, tenant, "storage_error", err)
		return err
	}

	currentDigestHash := CurrentDigestHash(previousDigestHash[:], eventsHash[:], now, tenant)

	key, err := w.keyManager.ActiveKey(ctx, tenant)
	if err != nil {
		// EntropyUnavailable (or any key-manager failure): skip this tick,
		// leave the watermark unchanged (spec §4.9 failure semantics).
		w.recordOutcome(ctx, tenant, "entropy_unavailable", err)
		return err
	}

	sig := signer.Sign(currentDigestHash[:], key.Ed25519Private())

	rec := Record{
		DigestID:           NewDigestID(),
		TenantID:           tenant,
		IntervalStart:      intervalStart,
		IntervalEnd:        now,
		EventCount:         len(events),
		EventsHash:         eventsHash[:],
		PreviousDigestHash: previousDigestHash[:],
		CurrentDigestHash:  currentDigestHash[:],
		SigningKeyID:       key.KeyID,
		Signature:          sig,
	}

	if err := w.store.Append(ctx, tenant, rec); err != nil {
		w.recordOutcome(ctx, tenant, "storage_error", err)
		return err
	}

	w.recordOutcome(ctx, tenant, "success", nil)
	return nil
}

func (w *Worker) recordOutcome(ctx context.Context, tenant, outcome string, err error) {
	if w.metrics != nil {
		w.metrics.RecordDigestTick(outcome)
	}
	if w.logger != nil {
		w.logger.LogAudit(ctx, "digest_tick", "tenant", tenant, outcome)
	}
	_ = err // outcome already encodes failure vs. success; err is for callers
}
