package chain

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/audit-core/internal/cap/eventstore"
	"github.com/R3E-Network/audit-core/internal/cap/keys"
	"github.com/R3E-Network/audit-core/internal/cap/signer"
	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
)

func testEvent(id string) event.AuditEvent {
	return event.AuditEvent{
		EventID:       id,
		EventTime:     time.Now(),
		EventSource:   "svc",
		EventName:     "GET /x",
		EventCategory: event.CategoryData,
		TenantID:      "tenant-a",
		Resource:      hrn.Sentinel("tenant-a"),
	}
}

func newTestWorker(now time.Time) (*Worker, *clock.Fake, Store, eventstore.Store) {
	fc := clock.NewFake(now)
	store := NewMemStore()
	events := eventstore.NewMemStore()
	mgr := keys.NewManager(keys.NewMemStore(), fc, 90*24*time.Hour, time.Hour)
	w := NewWorker(store, events, mgr, fc, time.Hour, nil, nil)
	return w, fc, store, events
}

func TestTick_GenesisProducesZeroPreviousHash(t *testing.T) {
	now := time.Now()
	w, _, store, events := newTestWorker(now)
	ctx := context.Background()

	if err := events.Append(ctx, "tenant-a", testEvent("e1"), now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.Tick(ctx, "tenant-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := store.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	for _, b := range rec.PreviousDigestHash {
		if b != 0 {
			t.Fatal("expected genesis previous_digest_hash to be all-zero")
		}
	}
	if rec.EventCount != 1 {
		t.Fatalf("expected 1 covered event, got %d", rec.EventCount)
	}
}

func TestTick_LinksToPreviousRecord(t *testing.T) {
	now := time.Now()
	w, fc, store, events := newTestWorker(now)
	ctx := context.Background()

	if err := events.Append(ctx, "tenant-a", testEvent("e1"), now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Tick(ctx, "tenant-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fc.Advance(time.Hour)
	if err := events.Append(ctx, "tenant-a", testEvent("e2"), fc.Now().Add(-10*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Tick(ctx, "tenant-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := store.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	expectedPrevHash, err := PreviousHashOf(recs[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(recs[1].PreviousDigestHash) != string(expectedPrevHash[:]) {
		t.Fatal("expected second record's previous_digest_hash to link to the first")
	}
	if recs[1].IntervalStart != recs[0].IntervalEnd {
		t.Fatal("expected no gap between adjacent intervals")
	}
}

func TestTick_SignatureVerifiesUnderActiveKey(t *testing.T) {
	now := time.Now()
	w, _, store, events := newTestWorker(now)
	ctx := context.Background()

	if err := events.Append(ctx, "tenant-a", testEvent("e1"), now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Tick(ctx, "tenant-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := store.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := recs[0]

	pub, err := w.keyManager.PublicKey(ctx, rec.SigningKeyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !signer.Verify(rec.CurrentDigestHash, rec.Signature, pub) {
		t.Fatal("expected signature to verify under the signing key's public key")
	}
}

func TestTick_NoEventsStillAppendsEmptyRecord(t *testing.T) {
	now := time.Now()
	w, _, store, _ := newTestWorker(now)
	ctx := context.Background()

	if err := w.Tick(ctx, "tenant-empty"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := store.List(ctx, "tenant-empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].EventCount != 0 {
		t.Fatalf("expected one empty-interval record, got %+v", recs)
	}
}
