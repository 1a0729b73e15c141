package redis

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing key. Store errors other than this one mean
// the store itself is unreachable.
var ErrNotFound = errors.New("key not found")

// Store is the narrow key-value surface shared state goes through: plain
// reads, writes with expiry, an atomic counter and deletes. Both the Redis
// client and the in-memory fake implement it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments key and, when ttl is positive, refreshes
	// its expiry in the same round trip.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
}
