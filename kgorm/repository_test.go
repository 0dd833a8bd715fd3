package kgorm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repo
}

func seedProducts(t *testing.T, repo *Repository, names ...string) []*domain.Product {
	t.Helper()
	var out []*domain.Product
	for _, name := range names {
		p := &domain.Product{Name: name, LaunchURL: "https://" + name + ".example.com/launch"}
		if err := repo.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("create product: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	ps := seedProducts(t, repo, "crm", "docs", "CRM-lite")

	if ps[0].ID == 0 || ps[1].ID == ps[0].ID {
		t.Fatalf("expected generated ids, got %d and %d", ps[0].ID, ps[1].ID)
	}

	got, err := repo.GetProduct(ctx, ps[1].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LaunchURL != "https://docs.example.com/launch" {
		t.Errorf("unexpected product %+v", got)
	}

	crm, _ := repo.ListProducts(ctx, domain.ProductFilter{Name: "crm"})
	if len(crm) != 2 {
		t.Errorf("expected 2 case-insensitive matches, got %d", len(crm))
	}
	page, _ := repo.ListProducts(ctx, domain.ProductFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != ps[1].ID {
		t.Errorf("unexpected page %+v", page)
	}

	got.Price = 42
	got.SubMode = true
	if err := repo.UpdateProduct(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := repo.GetProduct(ctx, got.ID)
	if again.Price != 42 || !again.SubMode {
		t.Errorf("update not persisted: %+v", again)
	}
	if err := repo.UpdateProduct(ctx, &domain.Product{ID: 999, Name: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := repo.GetProduct(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProductCascades(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	ps := seedProducts(t, repo, "crm")

	_ = repo.CreateSubscription(ctx, &domain.Subscription{TenantID: 1, ProductID: ps[0].ID})
	_ = repo.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: 1, RoleID: 2, ProductID: ps[0].ID})

	if err := repo.DeleteProduct(ctx, ps[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteProduct(ctx, ps[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	subs, _ := repo.ListSubscriptions(ctx, 1)
	if len(subs) != 0 {
		t.Errorf("expected subscriptions removed, got %d", len(subs))
	}
}

func TestTokenUsageRepository(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	uid := uint64(5)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, tok := range []string{"a", "b", "c"} {
		u := &domain.TokenUsage{Token: tok, TenantID: 1, ProductID: 3, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if tok == "b" {
			u.UserID = &uid
		}
		if err := repo.CreateTokenUsage(ctx, u); err != nil {
			t.Fatalf("create usage: %v", err)
		}
	}
	if err := repo.CreateTokenUsage(ctx, &domain.TokenUsage{Token: "a", TenantID: 1, ProductID: 3}); err == nil {
		t.Error("expected duplicate token to fail")
	}

	usages, err := repo.ListTokenUsages(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(usages) != 2 || usages[0].Token != "c" || usages[1].Token != "b" {
		t.Fatalf("expected newest first, got %+v", usages)
	}
	if usages[1].UserID == nil || *usages[1].UserID != 5 {
		t.Errorf("expected user id 5, got %v", usages[1].UserID)
	}
}

func TestAccessRepository(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	ps := seedProducts(t, repo, "crm", "docs", "wiki")

	sub := &domain.Subscription{TenantID: 1, ProductID: ps[0].ID}
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected subscription id")
	}
	if err := repo.CreateSubscription(ctx, &domain.Subscription{TenantID: 1, ProductID: ps[0].ID}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if _, err := repo.FindSubscription(ctx, 1, ps[1].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetSubscription(ctx, 2, sub.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected tenant scoping, got %v", err)
	}

	tenantProducts, _ := repo.TenantProducts(ctx, 1)
	if len(tenantProducts) != 1 || tenantProducts[0].Name != "crm" {
		t.Errorf("unexpected tenant products %+v", tenantProducts)
	}

	// User 7 holds roles 10 and 11, both granted docs; role 11 also grants wiki in another tenant.
	_ = repo.AssignUserRole(ctx, &domain.UserRoleAssignment{TenantID: 1, UserID: 7, RoleID: 10})
	_ = repo.AssignUserRole(ctx, &domain.UserRoleAssignment{TenantID: 1, UserID: 7, RoleID: 11})
	_ = repo.AssignUserRole(ctx, &domain.UserRoleAssignment{TenantID: 1, UserID: 7, RoleID: 11})
	_ = repo.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: 1, RoleID: 10, ProductID: ps[1].ID})
	_ = repo.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: 1, RoleID: 11, ProductID: ps[1].ID})
	_ = repo.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: 2, RoleID: 11, ProductID: ps[2].ID})

	userProducts, err := repo.UserProducts(ctx, 1, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(userProducts) != 1 || userProducts[0].Name != "docs" {
		t.Errorf("expected distinct docs, got %+v", userProducts)
	}

	ok, err := repo.UserHasProduct(ctx, 1, 7, ps[1].ID)
	if err != nil || !ok {
		t.Errorf("expected grant on docs, got %v %v", ok, err)
	}
	ok, _ = repo.UserHasProduct(ctx, 1, 7, ps[2].ID)
	if ok {
		t.Error("grant from another tenant must not apply")
	}

	if err := repo.DeleteSubscription(ctx, 1, sub.ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := repo.DeleteSubscription(ctx, 1, sub.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	repo := setupTestDB(t)
	l := audit.NewLogger(repo, audit.DefaultHooks())

	_ = l.Log(ctx, audit.NewEvent(audit.EventTokenIssued).Success().Tenant(1).Meta("op", "issue").Build())
	_ = l.Log(ctx, audit.NewEvent(audit.EventTokenRejected).Failure("ip_mismatch").Tenant(1).Build())
	_ = repo.SaveEvent(ctx, audit.NewEvent(audit.EventTokenIssued).Success().Tenant(2).Build())

	events, err := repo.Query(ctx, audit.Filter{TenantID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	issued, _ := repo.Query(ctx, audit.Filter{Types: []string{audit.EventTokenIssued}, TenantID: 1})
	if len(issued) != 1 || issued[0].Metadata["op"] != "issue" || issued[0].ID == "" {
		t.Errorf("unexpected issued events %+v", issued)
	}
}

func TestRegistry(t *testing.T) {
	names := Providers()
	if len(names) != 3 || names[0] != "mysql" || names[2] != "sqlite" {
		t.Errorf("unexpected providers %v", names)
	}
	if _, err := NewStorage("oracle", "", Options{}); err == nil {
		t.Error("expected unknown provider error")
	}

	repo, err := NewStorage("sqlite", filepath.Join(t.TempDir(), "console.db"), Options{AutoMigrate: true, Gorm: &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	defer repo.Close()
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
