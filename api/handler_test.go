package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getkayan/console/core/access"
	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/kv"
	"github.com/getkayan/console/core/launch"
	"github.com/getkayan/console/core/product"
	"github.com/getkayan/console/core/ratelimit"
	"github.com/getkayan/console/core/session"
	"github.com/labstack/echo/v4"
)

const (
	firefox = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	chrome  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

type fakeSessions map[string]*session.Identity

func (f fakeSessions) Resolve(ctx context.Context, sessionID string) (*session.Identity, error) {
	ident, ok := f[sessionID]
	if !ok {
		return nil, session.ErrInvalidSession
	}
	return ident, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	e      *echo.Echo
	store  *domain.MemoryStorage
	tokens *kv.MemoryStore
	events *audit.MemoryStore
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	store := domain.NewMemoryStorage()
	tokens := kv.NewMemoryStore()
	events := audit.NewMemoryStore()

	var seq atomic.Int64
	gen := launch.WithTokenGenerator(func() (string, error) {
		return fmt.Sprintf("tok-%d", seq.Add(1)), nil
	})

	userID := uint64(42)
	sessions := fakeSessions{
		"tenant-1": {TenantID: 1, Role: "tenant"},
		"tenant-2": {TenantID: 2, Role: "tenant"},
		"user-1":   {TenantID: 1, UserID: &userID, Role: "member", Type: "user"},
	}

	auditLog := audit.NewLogger(events, audit.DefaultHooks())
	launchHooks := launch.WithHooks(audit.LaunchHooks(auditLog, nil))

	h := NewHandler(
		product.NewCatalog(store, nil),
		access.NewChecker(store, store, access.WithHooks(audit.AccessHooks(auditLog, nil))),
		sessions,
		launch.NewIssuer(store, store, tokens, gen, launchHooks),
		launch.NewVerifier(store, tokens, launchHooks),
		append([]HandlerOption{WithAudit(auditLog)}, opts...)...,
	)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(nil)
	e.IPExtractor = IPExtractor(false)
	h.RegisterRoutes(e.Group(""))

	return &testServer{e: e, store: store, tokens: tokens, events: events}
}

func (s *testServer) do(t *testing.T, method, target string, body any, ua string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set("User-Agent", ua)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: undecodable body %q", method, target, rec.Body.String())
	}
	return rec.Code, env
}

func (s *testServer) createProduct(t *testing.T, name string) uint64 {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/products", map[string]any{
		"product_name": name,
		"price":        9.5,
		"launch_url":   "https://crm.example.com/launch?src=console",
	}, firefox)
	if code != http.StatusOK {
		t.Fatalf("create product: %d %s", code, env.Message)
	}
	var p domain.Product
	_ = json.Unmarshal(env.Data, &p)
	return p.ID
}

func TestLaunchFlow(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct(t, "CRM")

	code, env := s.do(t, http.MethodPost, "/tenant_product_maps?session_id=tenant-1", map[string]any{"product_id": pid}, firefox)
	if code != http.StatusOK {
		t.Fatalf("subscribe: %d %s", code, env.Message)
	}

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/products/%d/get-link?session_id=tenant-1", pid), nil, firefox)
	if code != http.StatusOK || env.Message != "Magic link generated successfully" {
		t.Fatalf("get-link: %d %s", code, env.Message)
	}
	var url string
	_ = json.Unmarshal(env.Data, &url)
	if url != "https://crm.example.com/launch?src=console&magic_token=tok-1" {
		t.Fatalf("unexpected launch url %q", url)
	}

	usages, _ := s.store.ListTokenUsages(context.Background(), 1, 0)
	if len(usages) != 1 || usages[0].Token != "tok-1" || usages[0].UserID != nil {
		t.Fatalf("unexpected usage rows %+v", usages)
	}

	code, env = s.do(t, http.MethodGet, "/auth/verify-token?token=tok-1", nil, firefox)
	if code != http.StatusOK || env.Message != "Token verified successfully" {
		t.Fatalf("verify: %d %s", code, env.Message)
	}
	if string(env.Data) != `{"status":"success","valid":true}` {
		t.Errorf("unexpected redemption payload %s", env.Data)
	}

	code, env = s.do(t, http.MethodGet, "/auth/verify-token?token=tok-1", nil, firefox)
	if code != http.StatusBadRequest || env.Message != "Token expired, invalid, or already used" {
		t.Errorf("expected replay rejected, got %d %s", code, env.Message)
	}
	if env.Status != "error" || string(env.Data) != "null" {
		t.Errorf("unexpected error envelope %+v", env)
	}

	events, _ := s.events.Query(context.Background(), audit.Filter{TenantID: 1})
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	// Newest first: the replay carries no binding and is not tenant scoped.
	want := []string{audit.EventTokenRedeemed, audit.EventTokenIssued, audit.EventSubscribed}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected audit trail %v", types)
	}
}

func TestVerifyRejectsOtherBrowser(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct(t, "CRM")
	_, _ = s.do(t, http.MethodPost, "/tenant_product_maps?session_id=tenant-1", map[string]any{"product_id": pid}, firefox)
	_, _ = s.do(t, http.MethodGet, fmt.Sprintf("/products/%d/get-link?session_id=tenant-1", pid), nil, firefox)

	code, env := s.do(t, http.MethodGet, "/auth/verify-token?token=tok-1", nil, chrome)
	if code != http.StatusForbidden || env.Message != "Security error: Use the same browser" {
		t.Fatalf("expected browser mismatch, got %d %s", code, env.Message)
	}

	// The token was consumed by the failed attempt.
	code, _ = s.do(t, http.MethodGet, "/auth/verify-token?token=tok-1", nil, firefox)
	if code != http.StatusBadRequest {
		t.Errorf("expected consumed token, got %d", code)
	}
}

func TestGetLinkAccess(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct(t, "CRM")

	tests := []struct {
		name    string
		session string
		code    int
		message string
	}{
		{"missing session", "", http.StatusUnauthorized, "Invalid Session"},
		{"unknown session", "nope", http.StatusUnauthorized, "Invalid Session"},
		{"tenant not subscribed", "tenant-2", http.StatusForbidden, "Access denied: Tenant is not subscribed to this product"},
		{"user without role", "user-1", http.StatusForbidden, "Access denied: You do not have permission to launch this product"},
	}
	_, _ = s.do(t, http.MethodPost, "/tenant_product_maps?session_id=tenant-1", map[string]any{"product_id": pid}, firefox)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodGet, fmt.Sprintf("/products/%d/get-link?session_id=%s", pid, tt.session), nil, firefox)
			if code != tt.code || env.Message != tt.message {
				t.Errorf("got %d %q, want %d %q", code, env.Message, tt.code, tt.message)
			}
		})
	}
	if s.tokens.Len() != 0 {
		t.Errorf("denied requests must not store tokens, have %d", s.tokens.Len())
	}

	ctx := context.Background()
	_ = s.store.AssignUserRole(ctx, &domain.UserRoleAssignment{TenantID: 1, UserID: 42, RoleID: 3})
	_ = s.store.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: 1, RoleID: 3, ProductID: pid})
	code, _ := s.do(t, http.MethodGet, fmt.Sprintf("/products/%d/get-link?session_id=user-1", pid), nil, firefox)
	if code != http.StatusOK {
		t.Errorf("expected granted user to get a link, got %d", code)
	}
	usages, _ := s.store.ListTokenUsages(ctx, 1, 1)
	if len(usages) != 1 || usages[0].UserID == nil || *usages[0].UserID != 42 {
		t.Errorf("expected usage for user 42, got %+v", usages)
	}
}

func TestMarketplaceHidesLaunchURL(t *testing.T) {
	s := newTestServer(t)
	s.createProduct(t, "CRM Suite")
	s.createProduct(t, "Docs")

	req := httptest.NewRequest(http.MethodGet, "/products?product_name=crm", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "launch_url") {
		t.Errorf("marketplace leaked launch url: %s", rec.Body.String())
	}
	var env struct {
		Data []domain.ProductListing `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	if len(env.Data) != 1 || env.Data[0].Name != "CRM Suite" {
		t.Errorf("unexpected listing %+v", env.Data)
	}

	code, env2 := s.do(t, http.MethodGet, "/products/99", nil, firefox)
	if code != http.StatusNotFound || env2.Message != "Product not found" {
		t.Errorf("expected 404, got %d %s", code, env2.Message)
	}
}

func TestProductManagement(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/products", map[string]any{"product_name": "Bad", "launch_url": "/relative"}, firefox)
	if code != http.StatusUnprocessableEntity || !strings.Contains(env.Message, "launch_url") {
		t.Errorf("expected validation error, got %d %s", code, env.Message)
	}

	pid := s.createProduct(t, "CRM")
	code, env = s.do(t, http.MethodPut, fmt.Sprintf("/products/%d", pid), map[string]any{"price": 20}, firefox)
	if code != http.StatusOK {
		t.Fatalf("update: %d %s", code, env.Message)
	}
	var p domain.Product
	_ = json.Unmarshal(env.Data, &p)
	if p.Price != 20 || p.Name != "CRM" {
		t.Errorf("unexpected update result %+v", p)
	}

	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/products/%d", pid), nil, firefox)
	if code != http.StatusOK {
		t.Errorf("delete: %d", code)
	}
	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/products/%d", pid), nil, firefox)
	if code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", code)
	}
	code, _ = s.do(t, http.MethodGet, "/products/abc", nil, firefox)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad id, got %d", code)
	}
}

func TestSubscriptions(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct(t, "CRM")
	s.createProduct(t, "Docs")

	code, env := s.do(t, http.MethodPost, "/tenant_product_maps?session_id=tenant-1", map[string]any{"product_id": pid}, firefox)
	if code != http.StatusOK {
		t.Fatalf("subscribe: %d", code)
	}
	var sub domain.Subscription
	_ = json.Unmarshal(env.Data, &sub)

	code, env = s.do(t, http.MethodPost, "/tenant_product_maps?session_id=tenant-1", map[string]any{"product_id": pid}, firefox)
	if code != http.StatusBadRequest || env.Message != "This tenant is already subscribed to this product" {
		t.Errorf("expected duplicate rejected, got %d %s", code, env.Message)
	}
	code, _ = s.do(t, http.MethodPost, "/tenant_product_maps?session_id=tenant-1", map[string]any{"product_id": 99}, firefox)
	if code != http.StatusNotFound {
		t.Errorf("expected missing product 404, got %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/my-products?session_id=tenant-1", nil, firefox)
	var mine []domain.ProductListing
	_ = json.Unmarshal(env.Data, &mine)
	if code != http.StatusOK || len(mine) != 1 || mine[0].ID != pid {
		t.Errorf("unexpected tenant products %d %+v", code, mine)
	}

	code, env = s.do(t, http.MethodGet, "/my-products/2?session_id=tenant-1", nil, firefox)
	if code != http.StatusForbidden || env.Message != "Access denied - product not subscribed" {
		t.Errorf("expected unsubscribed product refused, got %d %s", code, env.Message)
	}

	code, _ = s.do(t, http.MethodGet, fmt.Sprintf("/tenant_product_maps/%d?session_id=tenant-2", sub.ID), nil, firefox)
	if code != http.StatusNotFound {
		t.Errorf("expected other tenant to miss the map, got %d", code)
	}
	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/tenant_product_maps/%d?session_id=tenant-1", sub.ID), nil, firefox)
	if code != http.StatusOK {
		t.Errorf("unsubscribe: %d", code)
	}
	code, env = s.do(t, http.MethodGet, "/tenant_product_maps?session_id=tenant-1", nil, firefox)
	if code != http.StatusOK || string(env.Data) != "[]" {
		t.Errorf("expected empty map list, got %d %s", code, env.Data)
	}
}

func TestUserProducts(t *testing.T) {
	s := newTestServer(t)
	pid := s.createProduct(t, "CRM")
	ctx := context.Background()
	_ = s.store.AssignUserRole(ctx, &domain.UserRoleAssignment{TenantID: 1, UserID: 42, RoleID: 3})
	_ = s.store.GrantRoleProduct(ctx, &domain.RoleProductGrant{TenantID: 1, RoleID: 3, ProductID: pid})

	code, env := s.do(t, http.MethodGet, "/user-products?session_id=user-1", nil, firefox)
	var products []domain.ProductListing
	_ = json.Unmarshal(env.Data, &products)
	if code != http.StatusOK || len(products) != 1 {
		t.Errorf("unexpected user products %d %+v", code, products)
	}

	code, _ = s.do(t, http.MethodGet, "/user-products?session_id=tenant-1", nil, firefox)
	if code != http.StatusForbidden {
		t.Errorf("expected tenant session refused, got %d", code)
	}
}

func TestVerifyRateLimit(t *testing.T) {
	s := newTestServer(t, WithRateLimit(RateLimit{
		Limiter: ratelimit.NewMemoryLimiter(nil),
		Limit:   2,
		Window:  time.Minute,
	}))

	for i := 0; i < 2; i++ {
		code, _ := s.do(t, http.MethodGet, "/auth/verify-token?token=unknown", nil, firefox)
		if code != http.StatusBadRequest {
			t.Fatalf("request %d: expected 400, got %d", i, code)
		}
	}
	code, env := s.do(t, http.MethodGet, "/auth/verify-token?token=unknown", nil, firefox)
	if code != http.StatusTooManyRequests || env.Message != "Too many requests" {
		t.Fatalf("expected 429, got %d %s", code, env.Message)
	}

	events, _ := s.events.Query(context.Background(), audit.Filter{Types: []string{audit.EventRateLimited}})
	if len(events) != 1 || events[0].IPAddress != "192.0.2.1" {
		t.Errorf("unexpected rate limit audit %+v", events)
	}
}

func TestIPExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:41000"
	req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.9")

	if got := IPExtractor(false)(req); got != "10.0.0.5" {
		t.Errorf("untrusted extractor returned %q", got)
	}
	if got := IPExtractor(true)(req); got != "203.0.113.9" {
		t.Errorf("trusted extractor returned %q", got)
	}
}
