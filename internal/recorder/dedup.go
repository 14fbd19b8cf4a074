package recorder

import (
	"sync"
	"time"
)

// dedup suppresses repeated processing of the same confirmation within a TTL
// window, keeping redeliveries from hammering the database. The store's
// insert is idempotent anyway; this is only a cheap front filter.
type dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// isDuplicate returns true when the id was seen within the TTL window;
// otherwise it records the id and returns false.
func (d *dedup) isDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[id]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// cleanup removes expired entries to bound memory growth.
func (d *dedup) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
