package memory

import (
	"cargolink/internal/core/contracts"
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache is a TTL map. Expired entries are dropped lazily on read.
type Cache struct {
	mu    sync.RWMutex
	items map[string]cacheEntry
	now   func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		items: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

var _ contracts.Cache = (*Cache)(nil)

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return "", contracts.ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return "", contracts.ErrCacheMiss
	}
	return e.value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.items[k]; ok {
			delete(c.items, k)
			n++
		}
	}
	return n, nil
}

func (c *Cache) Ping(ctx context.Context) error { return nil }

func (c *Cache) Close() error { return nil }
