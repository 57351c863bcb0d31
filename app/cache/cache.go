// Package cache provides the key-value layer backing the session store and
// the directory result cache. The Redis implementation is authoritative in
// production; the in-memory implementation backs tests and single-node runs
// without a Redis deployment.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FACorreiaa/go-user-directory/config"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is the contract shared by the session store and the result cache.
// Values are opaque byte slices; callers own serialization.
type Cache interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel atomically fetches and removes key. Used for single-use
	// refresh-token redemption: concurrent redeemers cannot both observe
	// the token as present.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Deleting an absent key is not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix sweeps every key under the prefix and returns how many
	// were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

var _ Cache = (*RedisCache)(nil)

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient builds a Redis client from configuration and verifies
// connectivity with a ping.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Repositories.Redis.Host, cfg.Repositories.Redis.Port),
		Password: cfg.Repositories.Redis.Password,
		DB:       cfg.Repositories.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) GetDel(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache getdel %q: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeleteByPrefix walks the keyspace with SCAN rather than KEYS so the sweep
// does not block Redis on large keyspaces.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var deleted int
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return deleted, fmt.Errorf("cache sweep %q: %w", prefix, err)
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache scan %q: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return deleted, fmt.Errorf("cache sweep %q: %w", prefix, err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}
