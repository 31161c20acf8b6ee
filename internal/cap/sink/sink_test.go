package sink

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/R3E-Network/audit-core/internal/cap/eventstore"
	"github.com/R3E-Network/audit-core/internal/resilience"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
)

func testBatch(tenant string, n int) Batch {
	events := make([]event.AuditEvent, n)
	for i := range events {
		events[i] = event.AuditEvent{
			EventID:       tenant + "-" + time.Now().UTC().Format("150405.000000000") + "-" + string(rune('a'+i)),
			EventTime:     time.Now(),
			EventSource:   "svc",
			EventName:     "GET /x",
			EventCategory: event.CategoryData,
			TenantID:      tenant,
			Resource:      hrn.Sentinel(tenant),
		}
	}
	return Batch{TenantID: tenant, BatchID: 1, Events: events, ReceivedAt: time.Now()}
}

func TestEventStoreSink_SendRoundTrips(t *testing.T) {
	store := eventstore.NewMemStore()
	s := NewEventStoreSink(store)
	ctx := context.Background()

	batch := testBatch("tenant-a", 3)
	ack, err := s.Send(ctx, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Success || ack.AcceptedCount != 3 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	got, err := store.RangeByReceivedAt(ctx, "tenant-a", batch.ReceivedAt.Add(-time.Second), batch.ReceivedAt.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 stored events, got %d", len(got))
	}
}

type failingSink struct {
	failures int
	calls    int
}

func (f *failingSink) Send(ctx context.Context, batch Batch) (Ack, error) {
	f.calls++
	if f.calls <= f.failures {
		return Ack{Success: false, Message: "boom"}, errors.New("boom")
	}
	return Ack{Success: true, AcceptedCount: uint32(len(batch.Events))}, nil
}

func TestRetryingSink_RetriesThenSucceeds(t *testing.T) {
	inner := &failingSink{failures: 1}
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, Jitter: 0}
	s := NewRetryingSink(inner, retry, t.TempDir())

	ack, err := s.Send(context.Background(), testBatch("tenant-a", 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Success {
		t.Fatalf("expected eventual success, got %+v", ack)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

func TestRetryingSink_SpillsAfterExhaustion(t *testing.T) {
	inner := &failingSink{failures: 100}
	retry := resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: 0}
	dir := t.TempDir()
	s := NewRetryingSink(inner, retry, dir)

	ack, err := s.Send(context.Background(), testBatch("tenant-a", 1))
	if err != nil {
		t.Fatalf("unexpected error from spill path: %v", err)
	}
	if ack.Success {
		t.Fatal("expected ack to report failure after spill")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 spilled batch file, got %d", len(entries))
	}
}
