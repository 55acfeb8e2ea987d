package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const minJanitorInterval = time.Second

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a TTL map with a background janitor. Expired entries are also
// dropped lazily on read, so a stale value is never returned even between
// janitor passes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache whose entries default to the given TTL.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	interval := ttl / 2
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	go c.janitor(interval)

	return c
}

// Get returns the live value for key, dropping it if expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.Delete(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A non-positive ttl falls back to the cache
// default.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes one key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeletePrefix removes every key with the given prefix. An empty prefix
// clears the cache.
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.entries = make(map[string]entry)
		return
	}
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len counts the live entries.
func (c *Cache) Len() int {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Stop ends the janitor. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
}

// CacheWithFallback backs cache misses with a fetch function. Concurrent
// misses for the same key are collapsed into a single fetch; the others
// wait for its result instead of stampeding the source. Errors are never
// cached.
type CacheWithFallback struct {
	cache  *Cache
	flight singleflight.Group
}

// NewCacheWithFallback creates a fallback-backed cache with the given
// default TTL.
func NewCacheWithFallback(ttl time.Duration) *CacheWithFallback {
	return &CacheWithFallback{
		cache: New(ttl),
	}
}

// GetOrSet returns the cached value for key or fetches and caches it.
func (c *CacheWithFallback) GetOrSet(ctx context.Context, key string, fallback func(context.Context) (interface{}, error), ttl time.Duration) (interface{}, error) {
	if value, ok := c.cache.Get(key); ok {
		return value, nil
	}

	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Another caller may have filled the entry while this one was
		// queued behind the flight.
		if value, ok := c.cache.Get(key); ok {
			return value, nil
		}

		value, err := fallback(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Invalidate drops all entries with the given key prefix.
func (c *CacheWithFallback) Invalidate(prefix string) {
	c.cache.DeletePrefix(prefix)
}

// Stop ends the underlying janitor.
func (c *CacheWithFallback) Stop() {
	c.cache.Stop()
}
