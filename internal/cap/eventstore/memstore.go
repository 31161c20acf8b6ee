package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// MemStore is an in-memory Store, used in tests and as the default when no
// durable event store is configured.
type MemStore struct {
	mu   sync.RWMutex
	byTn map[string][]Stored
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byTn: make(map[string][]Stored)}
}

func (s *MemStore) Append(ctx context.Context, tenant string, e event.AuditEvent, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTn[tenant] = append(s.byTn[tenant], Stored{Event: e, ReceivedAt: receivedAt})
	return nil
}

func (s *MemStore) RangeByReceivedAt(ctx context.Context, tenant string, after, until time.Time) ([]Stored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Stored
	for _, st := range s.byTn[tenant] {
		if st.ReceivedAt.After(after) && !st.ReceivedAt.After(until) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.EventID < out[j].Event.EventID })
	return out, nil
}

var _ Store = (*MemStore)(nil)
