package sink

import (
	"context"

	"github.com/R3E-Network/audit-core/internal/cap/eventstore"
)

// EventStoreSink is the default Sink: it durably appends every event in the
// batch into the shared eventstore.Store the digest chain worker (C9) reads
// back from by received_at range.
type EventStoreSink struct {
	store eventstore.Store
}

// NewEventStoreSink wraps store as a Sink.
func NewEventStoreSink(store eventstore.Store) *EventStoreSink {
	return &EventStoreSink{store: store}
}

func (s *EventStoreSink) Send(ctx context.Context, batch Batch) (Ack, error) {
	for _, e := range batch.Events {
		if err := s.store.Append(ctx, batch.TenantID, e, batch.ReceivedAt); err != nil {
			return Ack{Success: false, Message: err.Error()}, err
		}
	}
	return Ack{Success: true, AcceptedCount: uint32(len(batch.Events))}, nil
}

var _ Sink = (*EventStoreSink)(nil)
