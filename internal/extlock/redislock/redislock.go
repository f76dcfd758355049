// Package redislock is a Redis-backed extlock.Locker (SETNX acquire, Lua
// compare-and-delete release/extend). A process that acquires a lock keeps
// the ownership token in a local table so callers never have to carry it
// around.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prn-tf/knitstore/internal/extlock"
)

const prefixLock = "knit:lock:"

var _ extlock.Locker = (*RedisLocker)(nil)

// RedisLocker is a Redis-backed Locker usable across multiple knitstore
// processes sharing the same Redis instance.
type RedisLocker struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

// New wraps an existing *redis.Client. The caller owns the client's
// lifecycle (Close it separately).
func New(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, tokens: make(map[string]string)}
}

func lockKey(key string) string { return prefixLock + key }

// Acquire implements extlock.Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// AcquireWithRetry implements extlock.Locker.
func (l *RedisLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for attempt := 0; ; attempt++ {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt >= maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Release implements extlock.Locker. It only releases a lock this process
// itself acquired (its token must still match what's in Redis).
func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	result, err := l.client.Eval(ctx, releaseScript, []string{lockKey(key)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redislock: release %s: %w", key, err)
	}

	l.mu.Lock()
	delete(l.tokens, key)
	l.mu.Unlock()

	return result != 0, nil
}

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// Extend implements extlock.Locker.
func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	result, err := l.client.Eval(ctx, extendScript, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redislock: extend %s: %w", key, err)
	}
	return result != 0, nil
}

// IsHeld implements extlock.Locker.
func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	result, err := l.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redislock: check %s: %w", key, err)
	}
	return result > 0, nil
}
