package metrics

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long an aggregated snapshot may be served without
// recomputation.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	data     *ClinicalMetrics
	storedAt time.Time
}

// Cache memoizes metric snapshots per center with a TTL. Mutation is guarded
// by a mutex so last-writer-wins holds when a cached read-through and a
// subscription-triggered recompute race; the cached value is only ever a
// memoized pure function of upstream state, never an input to further writes.
// The clock is injectable so tests can drive expiry.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// SetClock replaces the cache's clock. For tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached snapshot for a center if it is still fresh.
// Performs lazy expiration.
func (c *Cache) Get(centerID string) (*ClinicalMetrics, bool) {
	c.mu.RLock()
	entry, ok := c.entries[centerID]
	now := c.now()
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.Sub(entry.storedAt) >= c.ttl {
		c.mu.Lock()
		delete(c.entries, centerID)
		c.mu.Unlock()
		return nil, false
	}
	return entry.data, true
}

// Set stores a snapshot for a center, replacing any previous entry.
func (c *Cache) Set(centerID string, m *ClinicalMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[centerID] = cacheEntry{data: m, storedAt: c.now()}
}

// Clear evicts the given centers, or every entry when called without
// arguments. Call it whenever underlying data is known to have changed
// out-of-band.
func (c *Cache) Clear(centerIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(centerIDs) == 0 {
		c.entries = make(map[string]cacheEntry)
		return
	}
	for _, id := range centerIDs {
		delete(c.entries, id)
	}
}
