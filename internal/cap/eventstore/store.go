// Package eventstore holds ingested AuditEvents on the CAP side long enough
// for the digest chain worker (C9) to read them back by received_at range.
// This is deliberately not a query/aggregation surface (spec's Non-goals
// exclude that) — it exposes exactly the one range scan C9 needs.
package eventstore

import (
	"context"
	"time"

	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// Stored pairs an AuditEvent with the server-side received_at enrichment
// from spec §4.5 step 2.
type Stored struct {
	Event      event.AuditEvent
	ReceivedAt time.Time
}

// Store is the capability interface C5 writes to and C9 reads from.
type Store interface {
	// Append records e as received at receivedAt.
	Append(ctx context.Context, tenant string, e event.AuditEvent, receivedAt time.Time) error

	// RangeByReceivedAt returns every event for tenant with
	// received_at in (after, until], sorted by EventID ascending
	// (spec §4.9 step 2).
	RangeByReceivedAt(ctx context.Context, tenant string, after, until time.Time) ([]Stored, error)
}
