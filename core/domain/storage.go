// Package domain defines the core types and storage interfaces of the console.
//
// The console only depends on the contracts in this package; the kgorm package
// provides the relational implementation and tests use in-memory fakes.
//
// # Interfaces
//
//   - ProductStore: product catalog persistence
//   - TokenUsageStore: durable audit rows for issued launch tokens
//   - AccessStore: tenant subscriptions and role based product grants
//   - Storage: composite of the above
package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("record already exists")
)

// Storage defines the interface for all relational persistence operations.
type Storage interface {
	ProductStore
	TokenUsageStore
	AccessStore
}

type ProductStore interface {
	GetProduct(ctx context.Context, id uint64) (*Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id uint64) error
}

// ProductFilter narrows ListProducts. Name matches case-insensitively as a substring.
type ProductFilter struct {
	Name   string
	Limit  int
	Offset int
}

type TokenUsageStore interface {
	CreateTokenUsage(ctx context.Context, u *TokenUsage) error
	ListTokenUsages(ctx context.Context, tenantID uint64, limit int) ([]*TokenUsage, error)
}

type AccessStore interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, tenantID, id uint64) (*Subscription, error)
	FindSubscription(ctx context.Context, tenantID, productID uint64) (*Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID uint64) ([]*Subscription, error)
	DeleteSubscription(ctx context.Context, tenantID, id uint64) error

	// TenantProducts returns the products the tenant is subscribed to.
	TenantProducts(ctx context.Context, tenantID uint64) ([]*Product, error)

	// UserProducts returns the distinct products reachable through the user's roles.
	UserProducts(ctx context.Context, tenantID, userID uint64) ([]*Product, error)

	// UserHasProduct reports whether any role of the user is granted the product.
	UserHasProduct(ctx context.Context, tenantID, userID, productID uint64) (bool, error)

	GrantRoleProduct(ctx context.Context, g *RoleProductGrant) error
	AssignUserRole(ctx context.Context, a *UserRoleAssignment) error
}
