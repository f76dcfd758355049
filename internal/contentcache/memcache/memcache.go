// Package memcache is the in-process default contentcache.Cache: a
// mutex-guarded map with TTL expiry and a background janitor.
package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/knitstore/internal/contentcache"
	"github.com/prn-tf/knitstore/internal/domain"
)

var _ contentcache.Cache = (*Cache)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

// Cache is a mutex-guarded in-memory Cache with a background sweep that
// evicts expired entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCache starts a Cache and its background janitor goroutine.
func NewCache() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !e.noExpiry && now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Stop halts the janitor goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Get implements contentcache.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !e.noExpiry && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, domain.ErrCacheMiss
	}
	return cloneBytes(e.value), nil
}

// Set implements contentcache.Cache. A zero ttl means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: cloneBytes(value)}
	if ttl <= 0 {
		e.noExpiry = true
	} else {
		e.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements contentcache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Exists implements contentcache.Cache.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !e.noExpiry && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}
