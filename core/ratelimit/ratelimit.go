// Package ratelimit provides sliding window rate limiters and an echo
// middleware that applies them per client.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Allow records a request for key and reports whether it fits in the window.
	// remaining is how many requests are left in the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears the rate limit counter for the given key.
	Reset(ctx context.Context, key string) error
}

// ErrLimited is matched by every *Error.
var ErrLimited = errors.New("rate limit exceeded")

// Error is returned when a request is rate limited.
type Error struct {
	RetryAfter time.Duration
	Limit      int
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %v", e.RetryAfter)
}

func (e *Error) Is(target error) bool { return target == ErrLimited }

// ---- Sliding Window Rate Limiter (Memory) ----

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// MemoryLimiter implements a sliding window log in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*window
}

// NewMemoryLimiter creates a new memory-based rate limiter. c may be nil.
func NewMemoryLimiter(c clock.Clock) *MemoryLimiter {
	if c == nil {
		c = clock.New()
	}
	return &MemoryLimiter{
		clock:   c,
		entries: make(map[string]*window),
	}
}

func (r *MemoryLimiter) Allow(ctx context.Context, key string, limit int, win time.Duration) (bool, int, error) {
	r.mu.Lock()
	entry, exists := r.entries[key]
	if !exists {
		entry = &window{}
		r.entries[key] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-win)

	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= limit {
		return false, 0, nil
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, limit - len(entry.timestamps), nil
}

func (r *MemoryLimiter) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

var _ Limiter = (*MemoryLimiter)(nil)
