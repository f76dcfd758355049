// Package memlock provides in-process Locker implementations: a real
// mutex-guarded one for tests and single-node deployments, and a no-op one
// for embeddings with exactly one writer.
package memlock

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/knitstore/internal/extlock"
)

var (
	_ extlock.Locker = (*MemoryLocker)(nil)
	_ extlock.Locker = (*NoOpLocker)(nil)
)

type entry struct {
	expiresAt time.Time
}

// MemoryLocker is a single-process Locker backed by a mutex-guarded map.
// Useful for tests and for single-node deployments with no Redis.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]entry
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]entry)}
}

func (l *MemoryLocker) held(key string, now time.Time) bool {
	e, ok := l.locks[key]
	if !ok {
		return false
	}
	if now.After(e.expiresAt) {
		delete(l.locks, key)
		return false
	}
	return true
}

// Acquire implements extlock.Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.held(key, now) {
		return false, nil
	}
	l.locks[key] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

// AcquireWithRetry implements extlock.Locker.
func (l *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
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

// Release implements extlock.Locker.
func (l *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held(key, time.Now()) {
		return false, nil
	}
	delete(l.locks, key)
	return true, nil
}

// Extend implements extlock.Locker.
func (l *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !l.held(key, now) {
		return false, nil
	}
	l.locks[key] = entry{expiresAt: now.Add(ttl)}
	return true, nil
}

// IsHeld implements extlock.Locker.
func (l *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held(key, time.Now()), nil
}

// NoOpLocker is a Locker that always succeeds and never actually locks
// anything, for single-writer embeddings of the store that don't need
// cross-process coordination.
type NoOpLocker struct{}

// NewNoOpLocker creates a NoOpLocker.
func NewNoOpLocker() *NoOpLocker { return &NoOpLocker{} }

func (NoOpLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (l NoOpLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return true, nil
}

func (NoOpLocker) Release(ctx context.Context, key string) (bool, error) { return true, nil }

func (NoOpLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoOpLocker) IsHeld(ctx context.Context, key string) (bool, error) { return false, nil }
