package kgorm

import (
	"time"

	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/domain"
)

type gormProduct struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;not null;index"`
	Price       float64
	Logo        string `gorm:"size:1024"`
	Description string `gorm:"type:text"`
	LaunchURL   string `gorm:"size:2048;not null"`
	SubMode     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (gormProduct) TableName() string { return "products" }

func toDomainProduct(g *gormProduct) *domain.Product {
	return &domain.Product{
		ID:          g.ID,
		Name:        g.Name,
		Price:       g.Price,
		Logo:        g.Logo,
		Description: g.Description,
		LaunchURL:   g.LaunchURL,
		SubMode:     g.SubMode,
	}
}

func fromDomainProduct(p *domain.Product) *gormProduct {
	return &gormProduct{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		Logo:        p.Logo,
		Description: p.Description,
		LaunchURL:   p.LaunchURL,
		SubMode:     p.SubMode,
	}
}

func toDomainProducts(gs []gormProduct) []*domain.Product {
	out := make([]*domain.Product, 0, len(gs))
	for i := range gs {
		out = append(out, toDomainProduct(&gs[i]))
	}
	return out
}

type gormTokenUsage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"size:64;uniqueIndex;not null"`
	TenantID  uint64    `gorm:"index;not null"`
	UserID    *uint64   `gorm:"index"`
	ProductID uint64    `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (gormTokenUsage) TableName() string { return "token_usage" }

type gormSubscription struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID  uint64 `gorm:"uniqueIndex:idx_tenant_product;not null"`
	ProductID uint64 `gorm:"uniqueIndex:idx_tenant_product;not null"`
	CreatedAt time.Time
}

func (gormSubscription) TableName() string { return "tenant_product_maps" }

func toDomainSubscription(g *gormSubscription) *domain.Subscription {
	return &domain.Subscription{ID: g.ID, TenantID: g.TenantID, ProductID: g.ProductID}
}

type gormRoleProduct struct {
	TenantID  uint64 `gorm:"primaryKey"`
	RoleID    uint64 `gorm:"primaryKey"`
	ProductID uint64 `gorm:"primaryKey"`
}

func (gormRoleProduct) TableName() string { return "role_products" }

type gormUserRole struct {
	TenantID uint64 `gorm:"primaryKey"`
	UserID   uint64 `gorm:"primaryKey"`
	RoleID   uint64 `gorm:"primaryKey"`
}

func (gormUserRole) TableName() string { return "user_roles" }

type gormAuditEvent struct {
	ID           string `gorm:"primaryKey;size:36"`
	Type         string `gorm:"index"`
	Status       string `gorm:"index"`
	Reason       string
	Message      string
	TenantID     uint64  `gorm:"index"`
	UserID       *uint64 `gorm:"index"`
	IPAddress    string
	UserAgent    string            `gorm:"size:1024"`
	Metadata     map[string]string `gorm:"type:text;serializer:json"`
	ResourceType string
	ResourceID   string
	Risk         string
	RequestID    string
	CreatedAt    time.Time `gorm:"index"`
}

func (gormAuditEvent) TableName() string { return "audit_events" }

func fromAuditEvent(e *audit.Event) *gormAuditEvent {
	return &gormAuditEvent{
		ID:           e.ID,
		Type:         e.Type,
		Status:       e.Status,
		Reason:       e.Reason,
		Message:      e.Message,
		TenantID:     e.TenantID,
		UserID:       e.UserID,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Metadata:     e.Metadata,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Risk:         string(e.Risk),
		RequestID:    e.RequestID,
		CreatedAt:    e.CreatedAt,
	}
}

func toAuditEvent(g *gormAuditEvent) audit.Event {
	return audit.Event{
		ID:           g.ID,
		Type:         g.Type,
		Status:       g.Status,
		Reason:       g.Reason,
		Message:      g.Message,
		TenantID:     g.TenantID,
		UserID:       g.UserID,
		IPAddress:    g.IPAddress,
		UserAgent:    g.UserAgent,
		Metadata:     g.Metadata,
		ResourceType: g.ResourceType,
		ResourceID:   g.ResourceID,
		Risk:         audit.RiskLevel(g.Risk),
		RequestID:    g.RequestID,
		CreatedAt:    g.CreatedAt,
	}
}

func baseModels() []any {
	return []any{
		&gormProduct{},
		&gormTokenUsage{},
		&gormSubscription{},
		&gormRoleProduct{},
		&gormUserRole{},
		&gormAuditEvent{},
	}
}
