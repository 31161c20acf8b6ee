package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
)

type fakeFlusher struct {
	mu      sync.Mutex
	batches []Batch
}

func (f *fakeFlusher) Flush(ctx context.Context, batch Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testEvent(id string) event.AuditEvent {
	e, _ := event.New(event.AuditEvent{
		EventID:       id,
		EventTime:     time.Now(),
		EventSource:   "svc",
		EventName:     "GET /x",
		EventCategory: event.CategoryData,
		TenantID:      "t1",
		Resource:      hrn.Sentinel("t1"),
	}, time.Now())
	return e
}

func TestQueue_FlushesOnSizeTrigger(t *testing.T) {
	flusher := &fakeFlusher{}
	cfg := DefaultConfig("t1")
	cfg.BSize = 3
	cfg.Interval = time.Hour // disable time trigger for this test

	q := New(cfg, clock.Real{}, flusher, nil, nil)
	defer q.Close(context.Background())

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(testEvent("e" + string(rune('1'+i)))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	deadline := time.After(time.Second)
	for flusher.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a flush within 1s")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestQueue_BackpressureOnFull(t *testing.T) {
	flusher := &fakeFlusher{}
	cfg := DefaultConfig("t1")
	cfg.Capacity = 2
	cfg.BSize = 1000 // never size-trigger
	cfg.Interval = time.Hour

	q := New(cfg, clock.Real{}, flusher, nil, nil)
	defer q.Close(context.Background())

	if err := q.Enqueue(testEvent("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(testEvent("b")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := q.Enqueue(testEvent("c"))
	se, ok := apierrors.As(err)
	if !ok || se.Code != apierrors.CodeQueueFull {
		t.Fatalf("expected QueueFull, got %v", err)
	}
}

type spyingSpill struct {
	mu      sync.Mutex
	batches []Batch
}

func (s *spyingSpill) Spill(batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func TestQueue_Close_FlushesRemaining(t *testing.T) {
	flusher := &fakeFlusher{}
	cfg := DefaultConfig("t1")
	cfg.BSize = 1000
	cfg.Interval = time.Hour

	q := New(cfg, clock.Real{}, flusher, &spyingSpill{}, nil)

	if err := q.Enqueue(testEvent("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if flusher.count() != 1 {
		t.Errorf("expected 1 flushed batch on close, got %d", flusher.count())
	}
}
