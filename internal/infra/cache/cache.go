// Package cache provides a small in-process TTL cache. Instances are passed
// explicitly to the components that read through them.
package cache

import (
	"sync"
	"time"

	"github.com/vietddude/transync/internal/orchestration/metrics"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a concurrency-safe map with per-entry expiry.
type Cache[V any] struct {
	name  string
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]entry[V]
	now   func() time.Time
}

// New creates a cache. A non-positive ttl disables expiry.
func New[V any](name string, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		name:  name,
		ttl:   ttl,
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && (c.ttl <= 0 || c.now().Before(e.expiresAt)) {
		metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
		return e.value, true
	}
	if ok {
		c.Invalidate(key)
	}
	metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()
	var zero V
	return zero, false
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry[V])
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
