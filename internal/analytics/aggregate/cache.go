package aggregate

import (
	"sync"
	"time"

	"energy-insight/internal/observability/metrics"
)

// cacheKey identifies one cached aggregate: a metric name, the range it
// covers and an optional device filter.
type cacheKey struct {
	Metric string
	Start  time.Time
	End    time.Time
	Device string
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// Cache is a short-TTL cache for computed aggregates. Each Aggregator
// instance owns its cache; writers invalidate it after inserting readings.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   Clock
	entries map[cacheKey]cacheEntry
}

// NewCache constructs a cache with the given TTL.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	if clock == nil {
		clock = systemClock{}
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Get returns the cached value when present and not expired.
func (c *Cache) Get(key cacheKey) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		metrics.IncCacheEvent(metrics.CacheMiss)
		return nil, false
	}
	if c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		metrics.IncCacheEvent(metrics.CacheMiss)
		return nil, false
	}
	metrics.IncCacheEvent(metrics.CacheHit)
	return entry.value, true
}

// Put stores a value under the key.
func (c *Cache) Put(key cacheKey, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, storedAt: c.clock.Now()}
	c.mu.Unlock()
}

// Invalidate drops all entries. Safe to call concurrently with reads.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
