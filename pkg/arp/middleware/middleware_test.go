package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
)

type recordingEnqueuer struct {
	events []event.AuditEvent
}

func (r *recordingEnqueuer) Enqueue(e event.AuditEvent) error {
	r.events = append(r.events, e)
	return nil
}

func TestWrap_EnqueuesOneEventPerRequest(t *testing.T) {
	table := hrn.NewTable()
	table.Register(http.MethodGet, "/api/users/*", "users", "tenant", "user")

	q := &recordingEnqueuer{}
	cfg := Config{
		ServiceName: "orders-svc",
		Table:       table,
		Tenant:      func(r *http.Request) string { return "tenant-a" },
		Clock:       clock.NewFake(time.Now()),
	}

	handler := Wrap(cfg, q, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/42", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if len(q.events) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(q.events))
	}
	got := q.events[0]
	if got.TenantID != "tenant-a" {
		t.Errorf("unexpected tenant_id: %q", got.TenantID)
	}
	if got.HTTPStatus != http.StatusCreated {
		t.Errorf("unexpected http_status: %d", got.HTTPStatus)
	}
	if got.Resource.ResourceType != "user" || got.Resource.ResourceID != "42" {
		t.Errorf("unexpected resolved resource: %+v", got.Resource)
	}
	if !got.ReadOnly {
		t.Error("expected GET request to be marked read_only")
	}
}

func TestWrap_UnmatchedPathFallsBackToSentinel(t *testing.T) {
	q := &recordingEnqueuer{}
	cfg := Config{
		ServiceName: "orders-svc",
		Table:       hrn.NewTable(),
		Tenant:      func(r *http.Request) string { return "tenant-a" },
		Clock:       clock.NewFake(time.Now()),
	}

	handler := Wrap(cfg, q, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/unregistered", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(q.events) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(q.events))
	}
	if q.events[0].Resource != hrn.Sentinel("tenant-a") {
		t.Errorf("expected sentinel resource for unmatched path, got %+v", q.events[0].Resource)
	}
}
