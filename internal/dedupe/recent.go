package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	hash string
	ts   time.Time
}

type seen struct {
	id string
	ts time.Time
}

// Recent remembers the ids of recently stored content hashes so repeated
// deliveries of the same article skip the store lookup. It is a hint only:
// a miss always falls through to the store.
type Recent struct {
	mu       sync.Mutex
	items    map[string]seen
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewRecent creates a cache with the provided capacity and ttl.
func NewRecent(capacity int, ttl time.Duration) *Recent {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Recent{
		items:    make(map[string]seen, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Lookup returns the document id stored for hash inside the ttl window.
func (r *Recent) Lookup(hash string) (string, bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.items[hash]; ok && now.Sub(s.ts) <= r.ttl {
		return s.id, true
	}
	return "", false
}

// Remember records that hash is stored under id.
func (r *Recent) Remember(hash, id string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[hash] = seen{id: id, ts: now}
	r.order = append(r.order, entry{hash: hash, ts: now})
	r.compact(now)
}

func (r *Recent) compact(now time.Time) {
	cutoff := now.Add(-r.ttl)

	for len(r.order) > 0 && (len(r.items) > r.capacity || r.order[0].ts.Before(cutoff)) {
		oldest := r.order[0]
		r.order = r.order[1:]

		if s, ok := r.items[oldest.hash]; ok && s.ts == oldest.ts {
			delete(r.items, oldest.hash)
		}
	}
}
