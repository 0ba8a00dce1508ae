package maps

import (
	"sync"
	"time"
)

// DefaultCacheEntries bounds each provider cache. Keys come from user input.
const DefaultCacheEntries = 4096

// Cache is a small in-memory TTL cache for provider answers. Only successful
// lookups are stored.
type Cache[V any] struct {
	mu    sync.RWMutex
	store map[string]cacheEntry[V]
	ttl   time.Duration
	max   int
	now   func() time.Time
}

type cacheEntry[V any] struct {
	v  V
	ts time.Time
}

// NewCache creates a cache with the provided TTL holding at most
// DefaultCacheEntries. A TTL <= 0 disables it.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return NewCacheSize[V](ttl, DefaultCacheEntries)
}

func NewCacheSize[V any](ttl time.Duration, max int) *Cache[V] {
	if max < 1 {
		max = 1
	}
	return &Cache[V]{store: make(map[string]cacheEntry[V]), ttl: ttl, max: max, now: time.Now}
}

// Get returns cached value and true if present and not expired.
func (c *Cache[V]) Get(k string) (V, bool) {
	var zero V
	if c == nil || c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return zero, false
	}
	return e.v, true
}

func (c *Cache[V]) Set(k string, v V) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[k]; !ok && len(c.store) >= c.max {
		c.evictLocked()
	}
	c.store[k] = cacheEntry[V]{v: v, ts: c.now()}
}

// evictLocked drops every expired entry, and the oldest live one if that
// freed nothing.
func (c *Cache[V]) evictLocked() {
	now := c.now()
	var oldest string
	var oldestTS time.Time
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
			continue
		}
		if oldestTS.IsZero() || e.ts.Before(oldestTS) {
			oldest, oldestTS = k, e.ts
		}
	}
	if len(c.store) >= c.max {
		delete(c.store, oldest)
	}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
