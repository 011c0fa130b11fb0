// Package cache is a TTL key-value store with stale-read support. Expiry
// marks entries stale instead of removing them, so callers can serve
// degraded responses during upstream outages; eviction is least-recently-used
// once the entry count exceeds the configured bound.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the total entry count; 0 means unbounded.
	MaxEntries int
	// StaleRetention bounds how long an expired entry stays readable via
	// GetStale before eviction; 0 keeps stale entries until LRU pressure.
	StaleRetention time.Duration
}

type entry struct {
	value     any
	expiresAt time.Time
	lastUsed  time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	items map[string]*entry
	opts  Options
	clock func() time.Time
	sf    singleflight.Group
}

// New creates a Cache.
func New(opts Options) *Cache {
	return &Cache{
		items: make(map[string]*entry),
		opts:  opts,
		clock: time.Now,
	}
}

// WithClock overrides the clock for testing.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// Get returns the fresh value for key, if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	now := c.clock()
	if now.After(e.expiresAt) {
		// Expired entries stay resident for GetStale.
		return nil, false
	}
	e.lastUsed = now
	return e.value, true
}

// GetStale returns the value for key even if expired, as long as it has not
// been evicted (by LRU pressure or stale retention).
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	now := c.clock()
	if c.opts.StaleRetention > 0 && now.After(e.expiresAt.Add(c.opts.StaleRetention)) {
		delete(c.items, key)
		return nil, false
	}
	e.lastUsed = now
	return e.value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	c.items[key] = &entry{
		value:     value,
		expiresAt: now.Add(ttl),
		lastUsed:  now,
	}
	c.evictLocked()
}

// evictLocked removes least-recently-used entries until within bounds.
func (c *Cache) evictLocked() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, e := range c.items {
			if first || e.lastUsed.Before(oldest) {
				oldestKey, oldest = k, e.lastUsed
				first = false
			}
		}
		delete(c.items, oldestKey)
	}
}

// Loader produces a value for a key on cache miss.
type Loader func(ctx context.Context, key string) (any, error)

// GetOrLoad returns the cached value or invokes loader, collapsing
// concurrent loads for the same key into a single call.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	return v, err
}

// Len returns the resident entry count, stale entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
