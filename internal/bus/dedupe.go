package bus

import (
	"sync"
	"time"
)

// DedupeCache tracks message IDs already accepted so webhook retries and
// double-taps never duplicate a reply run. Entries expire after a TTL and
// the cache is hard-capped to bound memory under key churn.
// Safe for concurrent use.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewDedupeCache creates a cache with the given TTL and max entry count.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 5000
	}
	return &DedupeCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		max:     max,
		now:     time.Now,
	}
}

// IsDuplicate reports whether key was already seen within the TTL window,
// and marks it as seen if not. Check and mark are a single locked step so
// near-simultaneous duplicate deliveries cannot both pass.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if inserted, ok := c.entries[key]; ok && now.Sub(inserted) < c.ttl {
		return true
	}

	if len(c.entries) >= c.max {
		c.prune(now)
	}
	c.entries[key] = now
	return false
}

// Len returns the number of tracked entries (expired ones included until pruned).
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// prune removes expired entries, then evicts oldest-first while still at cap
// so the IDs most likely to be redelivered stay tracked. Caller must hold mu.
func (c *DedupeCache) prune(now time.Time) {
	for k, inserted := range c.entries {
		if now.Sub(inserted) >= c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.max {
		var oldestKey string
		var oldest time.Time
		for k, inserted := range c.entries {
			if oldestKey == "" || inserted.Before(oldest) {
				oldestKey, oldest = k, inserted
			}
		}
		delete(c.entries, oldestKey)
	}
}
