package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store and Taker on top of Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string

	// noGetDel is set once the server answered GETDEL with "unknown command".
	noGetDel atomic.Bool
}

// NewRedisStore creates a new Redis-based store. Every key is namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis kv: set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis kv: get failed: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis kv: delete failed: %w", err)
	}
	return nil
}

// GetDel runs GETDEL. Servers older than 6.2 do not know the command; that is
// reported as ErrAtomicUnsupported and remembered for later calls.
func (s *RedisStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	if s.noGetDel.Load() {
		return nil, ErrAtomicUnsupported
	}

	val, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		if isUnknownCommand(err) {
			s.noGetDel.Store(true)
			return nil, ErrAtomicUnsupported
		}
		return nil, fmt.Errorf("redis kv: getdel failed: %w", err)
	}
	return val, nil
}

// Ping reports whether the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func isUnknownCommand(err error) bool {
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	return strings.Contains(strings.ToLower(rerr.Error()), "unknown command")
}

var (
	_ Store = (*RedisStore)(nil)
	_ Taker = (*RedisStore)(nil)
)
