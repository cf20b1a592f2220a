package contracts

import (
	"context"
	"errors"
	"time"
)

// Cache is a string key/value store with per-key TTL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with ttl. Zero or negative ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var ErrCacheMiss = errors.New("cache: miss")
