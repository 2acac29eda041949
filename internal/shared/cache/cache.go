// Package cache holds small byte-valued caches shared by request handlers.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a TTL.
type Cache interface {
	// Get returns the value and true on a hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically adds one to the decimal counter at key, creating it
	// at zero, and returns the new value. Counters never expire.
	Incr(ctx context.Context, key string) (int64, error)
}
