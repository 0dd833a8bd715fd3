package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// VaultStore loads and saves raw session vaults.
type VaultStore interface {
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Save(ctx context.Context, sessionID string, v *Vault, ttl time.Duration) error
}

// errVaultMissing is returned by VaultStore implementations for unknown sessions.
var errVaultMissing = errors.New("session: vault not found")

// RedisVault implements VaultStore using Redis.
type RedisVault struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisVault creates a Redis-based vault store.
func NewRedisVault(client redis.UniversalClient, prefix string) *RedisVault {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisVault{client: client, prefix: prefix}
}

func (s *RedisVault) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisVault) Load(ctx context.Context, sessionID string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, errVaultMissing
	}
	if err != nil {
		return nil, fmt.Errorf("redis session: load failed: %w", err)
	}
	return raw, nil
}

func (s *RedisVault) Save(ctx context.Context, sessionID string, v *Vault, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis session: save failed: %w", err)
	}
	return nil
}

// Resolver turns a session ID into an Identity.
type Resolver struct {
	vaults VaultStore
	tokens TokenVerifier
	log    *zap.Logger
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(vaults VaultStore, tokens TokenVerifier, opts ...ResolverOption) *Resolver {
	r := &Resolver{vaults: vaults, tokens: tokens, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the session vault and returns the identity behind it.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (*Identity, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	raw, err := r.vaults.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errVaultMissing) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	var vault Vault
	if err := json.Unmarshal(raw, &vault); err != nil {
		r.log.Warn("session: undecodable vault", zap.Error(err))
		return nil, ErrInvalidVault
	}

	claims, err := r.tokens.Verify(vault.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidTokenType
	}

	tenantID := vault.TenantID
	if tenantID == nil {
		if vault.Role == "tenant" {
			tenantID = vault.UserID
		} else {
			tenantID = claims.TenantID
		}
	}
	if tenantID == nil {
		return nil, ErrTenantMissing
	}

	ident := &Identity{
		TenantID: uint64(*tenantID),
		Role:     vault.Role,
		Type:     vault.Type,
	}
	if vault.Type == "user" {
		if vault.UserID == nil {
			return nil, ErrInvalidVault
		}
		ident.UserID = vault.UserID.ptr()
	}
	return ident, nil
}
