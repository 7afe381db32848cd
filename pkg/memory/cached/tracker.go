package cached

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// defaultTrackedRecords bounds how many records the access tracker
// remembers. The least recently retrieved record is forgotten first.
const defaultTrackedRecords = 4096

// accessTracker counts retrieves per record within a sliding window. Only the
// most recent threshold+1 hits per record are kept, which is all a "more than
// threshold" decision needs.
type accessTracker struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[uuid.UUID, []time.Time]
	limit  int
	window time.Duration
	now    func() time.Time
}

func newAccessTracker(size, threshold int, window time.Duration, now func() time.Time) (*accessTracker, error) {
	if size <= 0 {
		size = defaultTrackedRecords
	}
	l, err := simplelru.NewLRU[uuid.UUID, []time.Time](size, nil)
	if err != nil {
		return nil, err
	}
	if threshold < 0 {
		threshold = 0
	}
	return &accessTracker{lru: l, limit: threshold + 1, window: window, now: now}, nil
}

// record notes one access to id.
func (t *accessTracker) record(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	hits, _ := t.lru.Get(id)
	hits = append(t.prune(hits, now), now)
	if len(hits) > t.limit {
		n := copy(hits, hits[len(hits)-t.limit:])
		hits = hits[:n]
	}
	t.lru.Add(id, hits)
}

// count returns the accesses to id within the window.
func (t *accessTracker) count(id uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	hits, ok := t.lru.Peek(id)
	if !ok {
		return 0
	}
	hits = t.prune(hits, t.now())
	t.lru.Add(id, hits)
	return len(hits)
}

func (t *accessTracker) forget(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lru.Remove(id)
}

// prune drops hits older than the window. hits is ordered oldest first.
func (t *accessTracker) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
