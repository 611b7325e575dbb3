// Package kv is the shared-state abstraction behind the rate limiter, the
// reputation store and the adaptive rule counters. Every mutation is atomic
// per key and operations on different keys never contend on a common lock.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures (network, closed client).
var ErrUnavailable = errors.New("kv store unavailable")

// Item is a versioned value. Version 0 means the key does not exist.
type Item struct {
	Value   []byte
	Version uint64
}

// Store is implemented by MemoryStore (tests, single node) and RedisStore
// (shared across nodes).
type Store interface {
	// Window records member under key at the given time and returns how many
	// distinct members were seen in the trailing window ending at that time.
	// Re-recording a member refreshes its timestamp.
	Window(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error)

	// Load returns the current value of key.
	Load(ctx context.Context, key string) (Item, error)

	// CompareAndSwap writes value only if key is still at version and reports
	// whether the write happened.
	CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (bool, error)

	// Increment adds delta to the counter at key and returns the new total.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}
