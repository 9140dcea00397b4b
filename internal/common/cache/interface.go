package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations the roulette services depend on.
// Redis is the production implementation; tests run it against miniredis.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key, "" on a miss
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// LockOps defines distributed lock operations.
// The owner token makes Unlock and ExtendLock safe after the lock expired and
// was taken by another holder.
type LockOps interface {
	// TryLock attempts to acquire a distributed lock
	// Returns true if lock was acquired, false otherwise
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Unlock releases the lock if it is still held by owner
	Unlock(ctx context.Context, key, owner string) error

	// ExtendLock extends the TTL if the lock is still held by owner
	ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}
