// Package cache provides a TTL cache for per-source review results.
package cache

import (
	"sync"
	"time"

	"github.com/reviewsignal/collector/internal/collect"
)

// Key identifies one cached result set.
type Key struct {
	Tool   string
	Source collect.Source
}

type entry struct {
	reviews   []collect.Review
	expiresAt time.Time
}

// ReviewCache is an in-memory TTL cache for scraped reviews. Entries are
// evicted lazily on read and in bulk via Prune.
type ReviewCache struct {
	ttl   time.Duration
	clock collect.Clock

	mu      sync.Mutex
	entries map[Key]entry
}

// New builds a cache. A non-positive TTL defaults to one hour.
func New(ttl time.Duration, clock collect.Clock) *ReviewCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = collect.SystemClock{}
	}
	return &ReviewCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[Key]entry),
	}
}

// Get returns the cached reviews for the key, or false when absent or
// expired. Callers get a copy; mutating it never corrupts the cache.
func (c *ReviewCache) Get(key Key) ([]collect.Review, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return append([]collect.Review(nil), e.reviews...), true
}

// Put stores the reviews under the key for one TTL. Empty result sets are
// cached too, so a source that legitimately has nothing is not re-scraped
// on every collection.
func (c *ReviewCache) Put(key Key, reviews []collect.Review) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		reviews:   append([]collect.Review(nil), reviews...),
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Invalidate drops one key.
func (c *ReviewCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Prune drops every expired entry and reports how many were removed.
func (c *ReviewCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports live entries, counting expired-but-unpruned ones.
func (c *ReviewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
