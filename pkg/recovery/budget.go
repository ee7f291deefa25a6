package recovery

import (
	"sync"
	"time"
)

// Budget defaults.
const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 100
)

type budgetEntry struct {
	updated time.Time
	count   int
}

// Budget counts automatic-fix attempts per key for one conversation.
// Entries expire after ttl and the oldest are evicted beyond maxEntries.
type Budget struct {
	entries    map[string]*budgetEntry
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	mu         sync.Mutex
}

// NewBudget creates a budget. Non-positive limits take the defaults and a
// nil clock uses time.Now.
func NewBudget(ttl time.Duration, maxEntries int, now func() time.Time) *Budget {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	return &Budget{
		entries:    make(map[string]*budgetEntry),
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Next records an attempt for key and returns its 1-based number.
func (b *Budget) Next(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweepLocked(now)

	e, ok := b.entries[key]
	if !ok {
		if len(b.entries) >= b.maxEntries {
			b.evictOldestLocked()
		}
		e = &budgetEntry{}
		b.entries[key] = e
	}
	e.count++
	e.updated = now
	return e.count
}

// Attempts returns the attempts recorded for key.
func (b *Budget) Attempts(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok && b.now().Sub(e.updated) <= b.ttl {
		return e.count
	}
	return 0
}

// Reset forgets key after a success.
func (b *Budget) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len returns the number of live entries.
func (b *Budget) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Sweep drops entries older than the TTL and returns how many were removed.
func (b *Budget) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepLocked(b.now())
}

// Snapshot returns a copy of the attempt counts.
func (b *Budget) Snapshot() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.entries))
	for k, e := range b.entries {
		out[k] = e.count
	}
	return out
}

func (b *Budget) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range b.entries {
		if now.Sub(e.updated) > b.ttl {
			delete(b.entries, k)
			removed++
		}
	}
	return removed
}

func (b *Budget) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range b.entries {
		if oldestKey == "" || e.updated.Before(oldest) {
			oldestKey, oldest = k, e.updated
		}
	}
	delete(b.entries, oldestKey)
}
