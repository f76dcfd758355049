// Package rediscache is a Redis-backed contentcache.Cache: a shared cache
// for reconstructed fulltexts usable across multiple knitstore processes.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prn-tf/knitstore/internal/contentcache"
	"github.com/prn-tf/knitstore/internal/domain"
)

var _ contentcache.Cache = (*Cache)(nil)

const defaultTTL = 5 * time.Minute

// Cache is a Redis-backed contentcache.Cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing *redis.Client. ttl is the default applied when Set
// is called with ttl<=0; the caller owns the client's lifecycle.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Get implements contentcache.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("rediscache: get %s: %w", key, err)
	}
	return val, nil
}

// Set implements contentcache.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set %s: %w", key, err)
	}
	return nil
}

// Delete implements contentcache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rediscache: delete %s: %w", key, err)
	}
	return nil
}

// Exists implements contentcache.Cache.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rediscache: exists %s: %w", key, err)
	}
	return n > 0, nil
}
