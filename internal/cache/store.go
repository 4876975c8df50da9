// Package cache provides the TTL key-value store behind the protection layer.
package cache

import (
	"context"
	"time"
)

// Store is a small TTL key-value store with atomic primitives.
type Store interface {
	// SetNX sets key only if it does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set overwrites key unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments key by one and (re)arms its expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}
