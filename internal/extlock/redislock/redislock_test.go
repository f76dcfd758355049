package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLocker dials a local Redis instance and skips the test if one
// isn't reachable; there is no in-memory Redis double in this module's
// dependency set.
func newTestLocker(t *testing.T) *RedisLocker {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return New(client)
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := "redislock-test-acquire"
	defer locker.client.Del(ctx, lockKey(key))

	acquired, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A second locker instance has no token for this key, so its own
	// acquire attempt must fail until the original is released.
	other := New(locker.client)
	acquired, err = other.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	released, err := locker.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	acquired, err = other.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLocker_ExtendAndIsHeld(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := "redislock-test-extend"
	defer locker.client.Del(ctx, lockKey(key))

	held, err := locker.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held)

	acquired, err := locker.Acquire(ctx, key, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)

	extended, err := locker.Extend(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, extended)

	held, err = locker.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLocker_ReleaseNotOwned(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := "redislock-test-not-owned"

	released, err := locker.Release(ctx, key)
	require.NoError(t, err)
	assert.False(t, released)
}
