// Package session resolves console sessions into tenant/user identities.
//
// Sessions are created by the login flow (out of scope here) as a JSON "vault"
// stored in Redis under session:<id>. The vault carries an internal access
// token (HS256 JWT) and the identity fields. Resolution:
//
//  1. Load the vault for the session ID
//  2. Verify its access token, which must be of type "access"
//  3. Normalize the tenant: vault tenant_id, else user_id for role "tenant",
//     else the tenant_id claim of the access token
//
// # Example
//
//	tokens := session.NewHS256Strategy(secret, 15*time.Minute)
//	resolver := session.NewResolver(session.NewRedisVault(rdb, "session:"), tokens)
//	ident, err := resolver.Resolve(ctx, sessionID)
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidSession   = errors.New("session: invalid session")
	ErrInvalidVault     = errors.New("session: invalid session data")
	ErrSessionExpired   = errors.New("session: expired")
	ErrInvalidTokenType = errors.New("session: invalid token type")
	ErrTenantMissing    = errors.New("session: tenant identity not found")
)

// IsAuthError reports whether err means the caller is not authenticated.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrInvalidVault) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidTokenType) ||
		errors.Is(err, ErrTenantMissing)
}

// Identity is the resolved caller.
type Identity struct {
	TenantID uint64  `json:"tenant_id"`
	UserID   *uint64 `json:"user_id"` // nil when a tenant logged in directly
	Role     string  `json:"role"`
	Type     string  `json:"type"`
}

// IsUser reports whether the identity is a tenant's user rather than the tenant itself.
func (i *Identity) IsUser() bool { return i.UserID != nil }

// Vault is the session record written at login.
type Vault struct {
	AccessToken string `json:"access_token"`
	TenantID    *ID    `json:"tenant_id,omitempty"`
	UserID      *ID    `json:"user_id,omitempty"`
	Role        string `json:"role,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ID is a numeric identifier that also accepts its decimal string form in JSON.
type ID uint64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("session: invalid id %q", s)
	}
	*id = ID(v)
	return nil
}

func (id *ID) ptr() *uint64 {
	if id == nil {
		return nil
	}
	v := uint64(*id)
	return &v
}

// NewID returns a pointer ID for building vaults.
func NewID(v uint64) *ID {
	id := ID(v)
	return &id
}
