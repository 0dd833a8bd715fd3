package kgorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/domain"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository implements domain.Storage and audit.Store using GORM.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// AutoMigrate creates or updates the console tables plus any extra models.
func (r *Repository) AutoMigrate(models ...any) error {
	return r.db.AutoMigrate(append(baseModels(), models...)...)
}

// Ping checks the underlying connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrConflict
	}
	return err
}

// ---- Products ----

func (r *Repository) GetProduct(ctx context.Context, id uint64) (*domain.Product, error) {
	var g gormProduct
	if err := r.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return toDomainProduct(&g), nil
}

func (r *Repository) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	q := r.db.WithContext(ctx).Model(&gormProduct{}).Order("id")
	if filter.Name != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(filter.Name)+"%")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var gs []gormProduct
	if err := q.Find(&gs).Error; err != nil {
		return nil, err
	}
	return toDomainProducts(gs), nil
}

func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product) error {
	g := fromDomainProduct(p)
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return translate(err)
	}
	p.ID = g.ID
	return nil
}

func (r *Repository) UpdateProduct(ctx context.Context, p *domain.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing gormProduct
		if err := tx.First(&existing, "id = ?", p.ID).Error; err != nil {
			return translate(err)
		}
		g := fromDomainProduct(p)
		return tx.Model(&existing).
			Select("name", "price", "logo", "description", "launch_url", "sub_mode").
			Updates(g).Error
	})
}

// DeleteProduct removes the product together with its subscriptions and role grants.
func (r *Repository) DeleteProduct(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&gormProduct{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := tx.Delete(&gormSubscription{}, "product_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&gormRoleProduct{}, "product_id = ?", id).Error
	})
}

// ---- Token usage ----

func (r *Repository) CreateTokenUsage(ctx context.Context, u *domain.TokenUsage) error {
	g := &gormTokenUsage{
		Token:     u.Token,
		TenantID:  u.TenantID,
		UserID:    u.UserID,
		ProductID: u.ProductID,
		CreatedAt: u.CreatedAt,
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return translate(r.db.WithContext(ctx).Create(g).Error)
}

func (r *Repository) ListTokenUsages(ctx context.Context, tenantID uint64, limit int) ([]*domain.TokenUsage, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var gs []gormTokenUsage
	if err := q.Find(&gs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.TokenUsage, 0, len(gs))
	for _, g := range gs {
		out = append(out, &domain.TokenUsage{
			Token:     g.Token,
			TenantID:  g.TenantID,
			UserID:    g.UserID,
			ProductID: g.ProductID,
			CreatedAt: g.CreatedAt,
		})
	}
	return out, nil
}

// ---- Subscriptions ----

func (r *Repository) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&gormSubscription{}).
			Where("tenant_id = ? AND product_id = ?", s.TenantID, s.ProductID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrConflict
		}
		g := &gormSubscription{TenantID: s.TenantID, ProductID: s.ProductID}
		if err := tx.Create(g).Error; err != nil {
			return translate(err)
		}
		s.ID = g.ID
		return nil
	})
}

func (r *Repository) GetSubscription(ctx context.Context, tenantID, id uint64) (*domain.Subscription, error) {
	var g gormSubscription
	if err := r.db.WithContext(ctx).First(&g, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		return nil, translate(err)
	}
	return toDomainSubscription(&g), nil
}

func (r *Repository) FindSubscription(ctx context.Context, tenantID, productID uint64) (*domain.Subscription, error) {
	var g gormSubscription
	if err := r.db.WithContext(ctx).First(&g, "tenant_id = ? AND product_id = ?", tenantID, productID).Error; err != nil {
		return nil, translate(err)
	}
	return toDomainSubscription(&g), nil
}

func (r *Repository) ListSubscriptions(ctx context.Context, tenantID uint64) ([]*domain.Subscription, error) {
	var gs []gormSubscription
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id").Find(&gs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Subscription, 0, len(gs))
	for i := range gs {
		out = append(out, toDomainSubscription(&gs[i]))
	}
	return out, nil
}

func (r *Repository) DeleteSubscription(ctx context.Context, tenantID, id uint64) error {
	res := r.db.WithContext(ctx).Delete(&gormSubscription{}, "id = ? AND tenant_id = ?", id, tenantID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) TenantProducts(ctx context.Context, tenantID uint64) ([]*domain.Product, error) {
	var gs []gormProduct
	err := r.db.WithContext(ctx).
		Joins("JOIN tenant_product_maps tpm ON tpm.product_id = products.id").
		Where("tpm.tenant_id = ?", tenantID).
		Order("products.id").
		Find(&gs).Error
	if err != nil {
		return nil, err
	}
	return toDomainProducts(gs), nil
}

func (r *Repository) userProducts(ctx context.Context, tenantID, userID uint64) *gorm.DB {
	return r.db.WithContext(ctx).Model(&gormProduct{}).
		Joins("JOIN role_products rp ON rp.product_id = products.id").
		Joins("JOIN user_roles ur ON ur.role_id = rp.role_id AND ur.tenant_id = rp.tenant_id").
		Where("ur.tenant_id = ? AND ur.user_id = ?", tenantID, userID)
}

func (r *Repository) UserProducts(ctx context.Context, tenantID, userID uint64) ([]*domain.Product, error) {
	var gs []gormProduct
	err := r.userProducts(ctx, tenantID, userID).
		Distinct("products.*").
		Order("products.id").
		Find(&gs).Error
	if err != nil {
		return nil, err
	}
	return toDomainProducts(gs), nil
}

func (r *Repository) UserHasProduct(ctx context.Context, tenantID, userID, productID uint64) (bool, error) {
	var count int64
	err := r.userProducts(ctx, tenantID, userID).
		Where("products.id = ?", productID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) GrantRoleProduct(ctx context.Context, g *domain.RoleProductGrant) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&gormRoleProduct{TenantID: g.TenantID, RoleID: g.RoleID, ProductID: g.ProductID}).Error
}

func (r *Repository) AssignUserRole(ctx context.Context, a *domain.UserRoleAssignment) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&gormUserRole{TenantID: a.TenantID, UserID: a.UserID, RoleID: a.RoleID}).Error
}

// ---- Audit ----

func (r *Repository) SaveEvent(ctx context.Context, event *audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(fromAuditEvent(event)).Error
}

func (r *Repository) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	q := r.db.WithContext(ctx).Model(&gormAuditEvent{}).Order("created_at DESC")
	if filter.TenantID != 0 {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.StartTime.IsZero() {
		q = q.Where("created_at >= ?", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q = q.Where("created_at <= ?", filter.EndTime)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var gs []gormAuditEvent
	if err := q.Find(&gs).Error; err != nil {
		return nil, err
	}
	out := make([]audit.Event, 0, len(gs))
	for i := range gs {
		out = append(out, toAuditEvent(&gs[i]))
	}
	return out, nil
}

var (
	_ domain.Storage = (*Repository)(nil)
	_ audit.Store    = (*Repository)(nil)
)
