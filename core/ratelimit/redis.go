package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the log, counts it and appends the request when it fits.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		return {0, 0}
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)

	return {1, limit - count - 1}
`)

// RedisLimiter implements Limiter using Redis for distributed rate limiting.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisLimiter creates a new Redis-based rate limiter.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "console:ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, clock: clock.New()}
}

// WithClock replaces the wall clock. Intended for tests.
func (r *RedisLimiter) WithClock(c clock.Clock) *RedisLimiter {
	r.clock = c
	return r
}

func (r *RedisLimiter) key(k string) string {
	return r.prefix + k
}

// Allow checks the request against a sliding window log.
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := r.clock.Now()
	windowStart := now.Add(-window)

	result, err := slidingWindow.Run(ctx, r.client, []string{r.key(key)},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		limit,
		window.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: allow check failed: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("redis rate limit: unexpected result format")
	}

	return result[0] == 1, int(result[1]), nil
}

// Reset clears the rate limit counter for the given key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis rate limit: reset failed: %w", err)
	}
	return nil
}

var _ Limiter = (*RedisLimiter)(nil)
