package domain

import (
	"time"
)

// Product is an external application tenants can subscribe to and launch.
type Product struct {
	ID          uint64  `json:"product_id"`
	Name        string  `json:"product_name"`
	Price       float64 `json:"price"`
	Logo        string  `json:"product_logo"`
	Description string  `json:"product_description"`
	LaunchURL   string  `json:"launch_url"`
	SubMode     bool    `json:"sub_mode"`
}

// ProductListing is the marketplace projection of a Product. It never carries
// the launch URL so browsing cannot be used to bypass the magic link flow.
type ProductListing struct {
	ID          uint64  `json:"product_id"`
	Name        string  `json:"product_name"`
	Description string  `json:"product_description"`
	Logo        string  `json:"product_logo"`
	Price       float64 `json:"price"`
	SubMode     bool    `json:"sub_mode"`
}

// Listing returns the marketplace projection of p.
func (p *Product) Listing() ProductListing {
	return ProductListing{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Logo:        p.Logo,
		Price:       p.Price,
		SubMode:     p.SubMode,
	}
}

// TokenUsage is the durable record written for every issued launch token.
// It is never mutated and outlives the ephemeral token itself.
type TokenUsage struct {
	Token     string    `json:"token"`
	TenantID  uint64    `json:"tenant_id"`
	UserID    *uint64   `json:"user_id"`
	ProductID uint64    `json:"product_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription maps a tenant to a product it may launch.
type Subscription struct {
	ID        uint64 `json:"id"`
	TenantID  uint64 `json:"tenant_id"`
	ProductID uint64 `json:"product_id"`
}

// RoleProductGrant allows every holder of RoleID inside TenantID to launch ProductID.
type RoleProductGrant struct {
	TenantID  uint64
	RoleID    uint64
	ProductID uint64
}

// UserRoleAssignment gives UserID the role RoleID inside TenantID.
type UserRoleAssignment struct {
	TenantID uint64
	UserID   uint64
	RoleID   uint64
}
