// Package sink implements the downstream side of the Simple Batch Contract
// (spec §6): the minimal hand-off between the ingestion server (C5) and
// whatever durably stores accepted events.
package sink

import (
	"context"
	"time"

	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// Batch is the CAP-side SinkBatch (spec §6), already validated and
// enriched with ReceivedAt by the ingestion server.
type Batch struct {
	TenantID   string
	BatchID    uint64
	Events     []event.AuditEvent
	ReceivedAt time.Time
}

// Ack is the CAP-side SinkAck (spec §6).
type Ack struct {
	Success       bool
	AcceptedCount uint32
	Message       string
}

// Sink accepts a validated batch for durable storage downstream of
// ingestion.
type Sink interface {
	Send(ctx context.Context, batch Batch) (Ack, error)
}
