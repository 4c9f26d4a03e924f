package cache

import (
	"sync"
	"time"

	"photomap/internal/metrics"
)

// Well-known keys for the precomputed listing snapshots invalidated by
// ingestion and geotag updates.
const (
	KeyGeotaggedPhotos = "geotagged_photos"
	KeyStats           = "stats"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is an in-process key-value store with per-cache TTL. It holds
// precomputed listing/stats snapshots; the ingestion core only ever
// deletes from it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

// Get returns the value stored under key, or nil if the key is absent or
// expired. Expired entries are removed lazily.
func (c *Cache) Get(key string) interface{} {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheOps.WithLabelValues("miss").Inc()
		return nil
	}
	if time.Now().After(e.expiresAt) {
		c.Delete(key)
		metrics.CacheOps.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.CacheOps.WithLabelValues("hit").Inc()
	return e.value
}

// Set stores value under key with the cache's TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	metrics.CacheOps.WithLabelValues("set").Inc()
}

// Delete removes key from the cache. Deleting an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	metrics.CacheOps.WithLabelValues("delete").Inc()
}
