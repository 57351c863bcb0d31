package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var _ Cache = (*MemoryCache)(nil)

// MemoryCache implements Cache in-process on top of go-cache. It exists for
// tests and for running without Redis; entries do not survive restarts.
type MemoryCache struct {
	mu    sync.Mutex
	store *gocache.Cache
}

// NewMemoryCache creates an in-process cache with the given default TTL.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		store: gocache.New(defaultTTL, 2*defaultTTL),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, found := c.store.Get(key)
	if !found {
		return nil, ErrCacheMiss
	}
	return val.([]byte), nil
}

// GetDel is atomic under the cache mutex, mirroring Redis GETDEL.
func (c *MemoryCache) GetDel(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, found := c.store.Get(key)
	if !found {
		return nil, ErrCacheMiss
	}
	c.store.Delete(key)
	return val.([]byte), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.store.Delete(key)
	}
	return nil
}

func (c *MemoryCache) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var deleted int
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}
