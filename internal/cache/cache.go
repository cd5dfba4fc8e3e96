// Package cache provides a TTL cache with an injected clock.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock returns the current time.
type Clock func() time.Time

// Cache holds values for a fixed TTL. It is safe for concurrent use.
// Concurrent GetOrLoad calls for the same missing key share one load.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     Clock
	group   singleflight.Group
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a cache. A nil clock means time.Now. A ttl of zero or less
// disables caching: every Get misses and every GetOrLoad loads.
func New[V any](ttl time.Duration, clock Clock) *Cache[V] {
	if clock == nil {
		clock = time.Now
	}
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     clock,
	}
}

// Get retrieves a cached value if it exists and hasn't expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value for the cache's TTL.
func (c *Cache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes a cached value.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops every entry, expired or not.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// GetOrLoad returns the cached value for key or calls load, caching its
// result on success. Errors are not cached.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
