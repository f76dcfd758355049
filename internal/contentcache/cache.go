// Package contentcache defines the optional reconstructed-fulltext cache a
// store may consult before walking a delta chain: a common interface, an
// in-memory default, and a Redis-backed option for multi-process
// deployments.
package contentcache

import (
	"context"
	"time"
)

// Cache stores and retrieves opaque byte blobs (reconstructed fulltexts,
// in practice) by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
