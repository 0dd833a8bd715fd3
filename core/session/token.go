package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type accepted inside a vault.
const TokenTypeAccess = "access"

// AccessClaims is the payload of the internal access token.
type AccessClaims struct {
	Type     string `json:"type"`
	TenantID *ID    `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates an access token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*AccessClaims, error)
}

// JWTConfig holds the configuration for access tokens.
type JWTConfig struct {
	SigningMethod jwt.SigningMethod
	SigningKey    any // []byte for HMAC, *rsa.PrivateKey for RSA
	VerifyingKey  any
	Expiry        time.Duration
	Leeway        time.Duration
}

// JWTStrategy signs and verifies access tokens.
type JWTStrategy struct {
	config JWTConfig
}

// NewJWTStrategy creates a new JWT strategy with the given configuration.
func NewJWTStrategy(config JWTConfig) *JWTStrategy {
	return &JWTStrategy{config: config}
}

// NewHS256Strategy is a convenience constructor for HS256 strategy.
func NewHS256Strategy(secret string, expiry time.Duration) *JWTStrategy {
	return &JWTStrategy{
		config: JWTConfig{
			SigningMethod: jwt.SigningMethodHS256,
			SigningKey:    []byte(secret),
			VerifyingKey:  []byte(secret),
			Expiry:        expiry,
		},
	}
}

// Sign issues an access token for subject. tenantID may be nil.
func (s *JWTStrategy) Sign(subject string, tenantID *uint64) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if tenantID != nil {
		claims.TenantID = NewID(*tenantID)
	}
	return s.SignClaims(claims)
}

// SignClaims signs arbitrary claims; used to mint refresh or malformed tokens in tests.
func (s *JWTStrategy) SignClaims(claims AccessClaims) (string, error) {
	token := jwt.NewWithClaims(s.config.SigningMethod, claims)
	return token.SignedString(s.config.SigningKey)
}

func (s *JWTStrategy) Verify(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != s.config.SigningMethod.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.config.VerifyingKey, nil
	}, jwt.WithLeeway(s.config.Leeway), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AccessClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

var _ TokenVerifier = (*JWTStrategy)(nil)
