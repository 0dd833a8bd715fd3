package domain

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStorageProducts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	for _, name := range []string{"CRM Suite", "Docs", "crm lite"} {
		if err := s.CreateProduct(ctx, &Product{Name: name, LaunchURL: "https://example.com"}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	all, _ := s.ListProducts(ctx, ProductFilter{})
	if len(all) != 3 || all[0].ID != 1 || all[2].ID != 3 {
		t.Fatalf("unexpected listing %+v", all)
	}

	crm, _ := s.ListProducts(ctx, ProductFilter{Name: "CRM"})
	if len(crm) != 2 {
		t.Errorf("expected case-insensitive match on 2 products, got %d", len(crm))
	}

	page, _ := s.ListProducts(ctx, ProductFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != 2 {
		t.Errorf("unexpected page %+v", page)
	}

	if err := s.CreateProduct(ctx, &Product{ID: 2, Name: "dup"}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if err := s.DeleteProduct(ctx, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetProduct(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateProduct(ctx, &Product{ID: 99}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestMemoryStorageAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	_ = s.CreateProduct(ctx, &Product{Name: "A"})
	_ = s.CreateProduct(ctx, &Product{Name: "B"})

	sub := &Subscription{TenantID: 1, ProductID: 1}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.CreateSubscription(ctx, &Subscription{TenantID: 1, ProductID: 1}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if _, err := s.GetSubscription(ctx, 2, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected other tenant to miss subscription, got %v", err)
	}

	products, _ := s.TenantProducts(ctx, 1)
	if len(products) != 1 || products[0].Name != "A" {
		t.Errorf("unexpected tenant products %+v", products)
	}

	_ = s.AssignUserRole(ctx, &UserRoleAssignment{TenantID: 1, UserID: 5, RoleID: 10})
	_ = s.AssignUserRole(ctx, &UserRoleAssignment{TenantID: 1, UserID: 5, RoleID: 11})
	_ = s.GrantRoleProduct(ctx, &RoleProductGrant{TenantID: 1, RoleID: 10, ProductID: 2})
	_ = s.GrantRoleProduct(ctx, &RoleProductGrant{TenantID: 1, RoleID: 11, ProductID: 2})
	_ = s.GrantRoleProduct(ctx, &RoleProductGrant{TenantID: 2, RoleID: 10, ProductID: 1})

	userProducts, _ := s.UserProducts(ctx, 1, 5)
	if len(userProducts) != 1 || userProducts[0].ID != 2 {
		t.Errorf("expected distinct product 2, got %+v", userProducts)
	}
	if ok, _ := s.UserHasProduct(ctx, 1, 5, 1); ok {
		t.Error("grant from another tenant must not apply")
	}
}
