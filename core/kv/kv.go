// Package kv provides the short-lived key-value storage used for launch tokens.
//
// Stores hold opaque byte values with a TTL. Redemption of single-use records
// goes through Take, which prefers an atomic get-and-delete and falls back to
// Get followed by Delete when the backend cannot provide one.
//
// # Implementations
//
//   - MemoryStore: in-process, clock driven expiry; for tests and single-instance setups
//   - RedisStore: Redis backed, GETDEL when the server supports it (6.2+)
package kv

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("kv: key not found")

	// ErrAtomicUnsupported is returned by a Taker whose backend cannot run an
	// atomic get-and-delete.
	ErrAtomicUnsupported = errors.New("kv: atomic get-and-delete unsupported")
)

// Store is the minimal contract every ephemeral store fulfills.
type Store interface {
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Taker is implemented by stores that can read and remove a key in one atomic step.
type Taker interface {
	GetDel(ctx context.Context, key string) ([]byte, error)
}

// Take reads and removes key. When store implements Taker the operation is atomic
// and concurrent callers observe at most one value. Otherwise, or when the backend
// reports ErrAtomicUnsupported, Take falls back to Get then Delete; two racing
// callers may both observe the value in that window.
func Take(ctx context.Context, store Store, key string, log *zap.Logger) ([]byte, error) {
	if t, ok := store.(Taker); ok {
		val, err := t.GetDel(ctx, key)
		if !errors.Is(err, ErrAtomicUnsupported) {
			return val, err
		}
	}

	if log != nil {
		log.Warn("kv: atomic get-and-delete unavailable, using get+delete", zap.String("key", key))
	}

	val, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := store.Delete(ctx, key); err != nil {
		return nil, err
	}
	return val, nil
}
