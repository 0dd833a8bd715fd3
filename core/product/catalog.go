// Package product manages the product catalog and its marketplace view.
package product

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/getkayan/console/core/domain"
	"go.uber.org/zap"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid product")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid product: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string  `json:"product_name"`
	Price       *float64 `json:"price"`
	Logo        *string  `json:"product_logo"`
	Description *string  `json:"product_description"`
	LaunchURL   *string  `json:"launch_url"`
	SubMode     *bool    `json:"sub_mode"`
}

func (p Patch) apply(dst *domain.Product) {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Price != nil {
		dst.Price = *p.Price
	}
	if p.Logo != nil {
		dst.Logo = *p.Logo
	}
	if p.Description != nil {
		dst.Description = *p.Description
	}
	if p.LaunchURL != nil {
		dst.LaunchURL = *p.LaunchURL
	}
	if p.SubMode != nil {
		dst.SubMode = *p.SubMode
	}
}

// Catalog wraps a ProductStore with validation.
type Catalog struct {
	store domain.ProductStore
	log   *zap.Logger
}

// NewCatalog creates a Catalog. log may be nil.
func NewCatalog(store domain.ProductStore, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{store: store, log: log}
}

// Marketplace lists products without their launch URLs.
func (c *Catalog) Marketplace(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductListing, error) {
	products, err := c.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductListing, 0, len(products))
	for _, p := range products {
		out = append(out, p.Listing())
	}
	return out, nil
}

// Listing returns the marketplace view of one product.
func (c *Catalog) Listing(ctx context.Context, id uint64) (*domain.ProductListing, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	l := p.Listing()
	return &l, nil
}

// Get returns the full product, launch URL included.
func (c *Catalog) Get(ctx context.Context, id uint64) (*domain.Product, error) {
	return c.store.GetProduct(ctx, id)
}

// Create validates and stores a new product.
func (c *Catalog) Create(ctx context.Context, p *domain.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if err := Validate(p); err != nil {
		return err
	}
	if err := c.store.CreateProduct(ctx, p); err != nil {
		return fmt.Errorf("product: create: %w", err)
	}
	c.log.Info("product created", zap.Uint64("product_id", p.ID), zap.String("name", p.Name))
	return nil
}

// Update applies patch to product id.
func (c *Catalog) Update(ctx context.Context, id uint64, patch Patch) (*domain.Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(p)
	p.Name = strings.TrimSpace(p.Name)
	if err := Validate(p); err != nil {
		return nil, err
	}
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("product: update: %w", err)
	}
	c.log.Info("product updated", zap.Uint64("product_id", p.ID))
	return p, nil
}

// Delete removes product id.
func (c *Catalog) Delete(ctx context.Context, id uint64) error {
	if err := c.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	c.log.Info("product deleted", zap.Uint64("product_id", id))
	return nil
}

// Validate checks the fields required to launch a product.
func Validate(p *domain.Product) error {
	if p.Name == "" {
		return &ValidationError{Field: "product_name", Reason: "is required"}
	}
	if p.Price < 0 {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if p.LaunchURL == "" {
		return &ValidationError{Field: "launch_url", Reason: "is required"}
	}
	u, err := url.Parse(p.LaunchURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "launch_url", Reason: "must be an absolute http(s) URL"}
	}
	if u.Fragment != "" {
		return &ValidationError{Field: "launch_url", Reason: "must not contain a fragment"}
	}
	return nil
}
