package ingest

import (
	"sync"
	"time"
)

// dedupWindow is spec §4.4's "sliding window of 24h" CAP must deduplicate
// (tenant_id, batch_id) within, so a spilled-and-replayed or ARP-retried
// batch is never appended into eventstore twice.
const dedupWindow = 24 * time.Hour

type dedupKey struct {
	tenant  string
	batchID uint64
}

// dedupTracker remembers every (tenant_id, batch_id) seen in the last
// dedupWindow, grounded on the idempotency key spec §4.4 and §6 define for
// exactly this purpose.
type dedupTracker struct {
	mu     sync.Mutex
	window time.Duration
	seenAt map[dedupKey]time.Time
}

func newDedupTracker(window time.Duration) *dedupTracker {
	if window <= 0 {
		window = dedupWindow
	}
	return &dedupTracker{window: window, seenAt: make(map[dedupKey]time.Time)}
}

// checkAndMark reports whether (tenant, batchID) was already seen within
// the window, and records it as seen as of now either way.
func (t *dedupTracker) checkAndMark(tenant string, batchID uint64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evict(now)

	key := dedupKey{tenant: tenant, batchID: batchID}
	_, duplicate := t.seenAt[key]
	t.seenAt[key] = now
	return duplicate
}

// evict drops every entry older than window. Must be called with mu held.
func (t *dedupTracker) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	for key, seenAt := range t.seenAt {
		if seenAt.Before(cutoff) {
			delete(t.seenAt, key)
		}
	}
}
