// Package extlock defines the pluggable external lock a store's writes are
// serialized by. The store itself never locks; callers (or cmd/knitctl)
// hold a Locker for the duration of a write.
//
// The interface is boolean/TTL shaped rather than token-returning: a
// single store process acquires, holds and releases its own lock by key,
// so the lock's identity never needs to leave the process that took it.
package extlock

import (
	"context"
	"time"
)

// Locker acquires and releases named, TTL-bounded locks.
type Locker interface {
	// Acquire attempts to take the lock named key for ttl, returning false
	// (not an error) if it is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry calls Acquire up to maxRetries+1 times, sleeping
	// retryDelay between attempts, returning false once retries are
	// exhausted.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock this process holds. Returns false if the
	// lock was not held (by this process).
	Release(ctx context.Context, key string) (bool, error)

	// Extend refreshes the TTL of a lock this process holds.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld reports whether key is currently locked by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}
