package webhook

import (
	"sync"
	"time"
)

// Deduplicator suppresses redeliveries of the same notification. EventSub delivery is
// at-least-once, so the same message id can arrive multiple times (including twice
// concurrently); the test-and-insert is atomic so only the first delivery wins.
//
// Entries expire after a TTL. Anything older than the signature freshness window can
// never verify again, so keeping ids beyond it only leaks memory.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewDeduplicator returns a deduplicator with the given entry TTL. A non-positive ttl
// defaults to MaxTimestampSkew, matching the verifier's replay window.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = MaxTimestampSkew
	}
	return &Deduplicator{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Seen reports whether messageID was already processed, marking it seen otherwise.
func (d *Deduplicator) Seen(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.prune(now)
	if _, ok := d.seen[messageID]; ok {
		return true
	}
	d.seen[messageID] = now
	return false
}

// Len returns the number of tracked ids (expired entries pruned first).
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune(d.now())
	return len(d.seen)
}

// prune is called with mu held.
func (d *Deduplicator) prune(now time.Time) {
	cutoff := now.Add(-d.ttl)
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
		}
	}
}
