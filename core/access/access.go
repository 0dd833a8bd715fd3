// Package access decides which products a tenant or user may launch and
// manages tenant subscriptions.
//
// Tenants launch products they are subscribed to. Users launch products
// granted to one of their roles within the tenant.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/session"
	"go.uber.org/zap"
)

var (
	// ErrDenied is returned when the caller may not launch or manage a product.
	ErrDenied = errors.New("access denied")

	ErrUserNotGranted      = fmt.Errorf("%w: no role of the user grants this product", ErrDenied)
	ErrTenantNotSubscribed = fmt.Errorf("%w: tenant is not subscribed to this product", ErrDenied)

	// ErrAlreadySubscribed is returned by Subscribe for duplicate subscriptions.
	ErrAlreadySubscribed = fmt.Errorf("%w: tenant is already subscribed to this product", domain.ErrConflict)

	// ErrProductMissing is returned when a subscription names an unknown product.
	ErrProductMissing = fmt.Errorf("%w: product", domain.ErrNotFound)

	// ErrSubscriptionMissing is returned when a subscription does not exist for the tenant.
	ErrSubscriptionMissing = fmt.Errorf("%w: subscription", domain.ErrNotFound)
)

// Hooks provides extension points around access decisions.
type Hooks struct {
	// OnDenied is called after a launch was refused.
	OnDenied func(ctx context.Context, ident *session.Identity, productID uint64, err error)

	// OnSubscribed is called after a subscription was created.
	OnSubscribed func(ctx context.Context, s *domain.Subscription)
}

// Checker evaluates launch permissions and manages subscriptions.
type Checker struct {
	products domain.ProductStore
	store    domain.AccessStore
	hooks    Hooks
	log      *zap.Logger
}

// CheckerOption configures the Checker.
type CheckerOption func(*Checker)

// WithHooks sets access hooks.
func WithHooks(h Hooks) CheckerOption {
	return func(c *Checker) {
		c.hooks = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CheckerOption {
	return func(c *Checker) {
		if l != nil {
			c.log = l
		}
	}
}

// NewChecker creates a Checker.
func NewChecker(products domain.ProductStore, store domain.AccessStore, opts ...CheckerOption) *Checker {
	c := &Checker{products: products, store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanLaunch returns nil when ident may launch productID.
func (c *Checker) CanLaunch(ctx context.Context, ident *session.Identity, productID uint64) error {
	if ident == nil {
		return ErrDenied
	}
	err := c.canLaunch(ctx, ident, productID)
	if err != nil && errors.Is(err, ErrDenied) {
		c.log.Info("launch denied",
			zap.Uint64("tenant_id", ident.TenantID),
			zap.Uint64("product_id", productID),
		)
		if c.hooks.OnDenied != nil {
			c.hooks.OnDenied(ctx, ident, productID, err)
		}
	}
	return err
}

func (c *Checker) canLaunch(ctx context.Context, ident *session.Identity, productID uint64) error {
	if ident.IsUser() {
		ok, err := c.store.UserHasProduct(ctx, ident.TenantID, *ident.UserID, productID)
		if err != nil {
			return fmt.Errorf("access: check user grant: %w", err)
		}
		if !ok {
			return ErrUserNotGranted
		}
		return nil
	}

	_, err := c.store.FindSubscription(ctx, ident.TenantID, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrTenantNotSubscribed
	}
	if err != nil {
		return fmt.Errorf("access: check subscription: %w", err)
	}
	return nil
}

// Subscribe subscribes tenantID to productID.
func (c *Checker) Subscribe(ctx context.Context, tenantID, productID uint64) (*domain.Subscription, error) {
	if _, err := c.products.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrProductMissing
		}
		return nil, fmt.Errorf("access: load product: %w", err)
	}

	if _, err := c.store.FindSubscription(ctx, tenantID, productID); err == nil {
		return nil, ErrAlreadySubscribed
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("access: find subscription: %w", err)
	}

	s := &domain.Subscription{TenantID: tenantID, ProductID: productID}
	if err := c.store.CreateSubscription(ctx, s); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, ErrAlreadySubscribed
		}
		return nil, fmt.Errorf("access: create subscription: %w", err)
	}

	c.log.Info("tenant subscribed",
		zap.Uint64("tenant_id", tenantID),
		zap.Uint64("product_id", productID),
	)
	if c.hooks.OnSubscribed != nil {
		c.hooks.OnSubscribed(ctx, s)
	}
	return s, nil
}

// Subscription returns one of the tenant's subscriptions.
func (c *Checker) Subscription(ctx context.Context, tenantID, id uint64) (*domain.Subscription, error) {
	s, err := c.store.GetSubscription(ctx, tenantID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrSubscriptionMissing
	}
	return s, err
}

// Unsubscribe removes one of the tenant's subscriptions.
func (c *Checker) Unsubscribe(ctx context.Context, tenantID, id uint64) error {
	err := c.store.DeleteSubscription(ctx, tenantID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrSubscriptionMissing
	}
	return err
}

// IsSubscribed reports whether tenantID is subscribed to productID.
func (c *Checker) IsSubscribed(ctx context.Context, tenantID, productID uint64) (bool, error) {
	_, err := c.store.FindSubscription(ctx, tenantID, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("access: find subscription: %w", err)
	}
	return true, nil
}

// ListSubscriptions returns the tenant's subscriptions.
func (c *Checker) ListSubscriptions(ctx context.Context, tenantID uint64) ([]*domain.Subscription, error) {
	return c.store.ListSubscriptions(ctx, tenantID)
}

// TenantProducts returns the products the tenant is subscribed to.
func (c *Checker) TenantProducts(ctx context.Context, tenantID uint64) ([]*domain.Product, error) {
	return c.store.TenantProducts(ctx, tenantID)
}

// UserProducts returns the distinct products reachable through the user's roles.
func (c *Checker) UserProducts(ctx context.Context, ident *session.Identity) ([]*domain.Product, error) {
	if ident == nil || !ident.IsUser() {
		return nil, fmt.Errorf("%w: user session required", ErrDenied)
	}
	return c.store.UserProducts(ctx, ident.TenantID, *ident.UserID)
}

// GrantRoleProduct allows every holder of roleID to launch productID.
func (c *Checker) GrantRoleProduct(ctx context.Context, tenantID, roleID, productID uint64) error {
	if _, err := c.products.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrProductMissing
		}
		return err
	}
	return c.store.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: tenantID, RoleID: roleID, ProductID: productID})
}

// AssignRole gives userID the role roleID.
func (c *Checker) AssignRole(ctx context.Context, tenantID, userID, roleID uint64) error {
	return c.store.AssignUserRole(ctx, &domain.UserRoleAssignment{TenantID: tenantID, UserID: userID, RoleID: roleID})
}
