package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage provides an in-memory implementation of Storage.
// This is useful for testing and local development.
type MemoryStorage struct {
	mu sync.RWMutex

	nextProduct uint64
	nextSub     uint64

	products      map[uint64]*Product
	usages        []*TokenUsage
	subscriptions map[uint64]*Subscription
	grants        []RoleProductGrant
	assignments   []UserRoleAssignment
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		products:      make(map[uint64]*Product),
		subscriptions: make(map[uint64]*Subscription),
	}
}

func (s *MemoryStorage) GetProduct(ctx context.Context, id uint64) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStorage) ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := strings.ToLower(filter.Name)
	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sortProducts(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Product{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStorage) CreateProduct(ctx context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.nextProduct++
		p.ID = s.nextProduct
	} else if _, exists := s.products[p.ID]; exists {
		return ErrConflict
	}
	if p.ID > s.nextProduct {
		s.nextProduct = p.ID
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStorage) UpdateProduct(ctx context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStorage) DeleteProduct(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStorage) CreateTokenUsage(ctx context.Context, u *TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.usages = append(s.usages, &cp)
	return nil
}

func (s *MemoryStorage) ListTokenUsages(ctx context.Context, tenantID uint64, limit int) ([]*TokenUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TokenUsage
	for i := len(s.usages) - 1; i >= 0; i-- {
		if s.usages[i].TenantID != tenantID {
			continue
		}
		cp := *s.usages[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStorage) CreateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.TenantID == sub.TenantID && existing.ProductID == sub.ProductID {
			return ErrConflict
		}
	}
	s.nextSub++
	sub.ID = s.nextSub
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetSubscription(ctx context.Context, tenantID, id uint64) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok || sub.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStorage) FindSubscription(ctx context.Context, tenantID, productID uint64) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID && sub.ProductID == productID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListSubscriptions(ctx context.Context, tenantID uint64) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) DeleteSubscription(ctx context.Context, tenantID, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok || sub.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *MemoryStorage) TenantProducts(ctx context.Context, tenantID uint64) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[uint64]struct{})
	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID {
			ids[sub.ProductID] = struct{}{}
		}
	}
	return s.collect(ids), nil
}

func (s *MemoryStorage) UserProducts(ctx context.Context, tenantID, userID uint64) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.userProductIDs(tenantID, userID)), nil
}

func (s *MemoryStorage) UserHasProduct(ctx context.Context, tenantID, userID, productID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.userProductIDs(tenantID, userID)[productID]
	return ok, nil
}

func (s *MemoryStorage) GrantRoleProduct(ctx context.Context, g *RoleProductGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.grants {
		if existing == *g {
			return nil
		}
	}
	s.grants = append(s.grants, *g)
	return nil
}

func (s *MemoryStorage) AssignUserRole(ctx context.Context, a *UserRoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assignments {
		if existing == *a {
			return nil
		}
	}
	s.assignments = append(s.assignments, *a)
	return nil
}

// userProductIDs must be called with the lock held.
func (s *MemoryStorage) userProductIDs(tenantID, userID uint64) map[uint64]struct{} {
	roles := make(map[uint64]struct{})
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.UserID == userID {
			roles[a.RoleID] = struct{}{}
		}
	}
	ids := make(map[uint64]struct{})
	for _, g := range s.grants {
		if g.TenantID != tenantID {
			continue
		}
		if _, ok := roles[g.RoleID]; ok {
			ids[g.ProductID] = struct{}{}
		}
	}
	return ids
}

// collect must be called with the lock held.
func (s *MemoryStorage) collect(ids map[uint64]struct{}) []*Product {
	out := make([]*Product, 0, len(ids))
	for id := range ids {
		if p, ok := s.products[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortProducts(out)
	return out
}

func sortProducts(ps []*Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

var _ Storage = (*MemoryStorage)(nil)
