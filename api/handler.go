// Package api exposes the console over HTTP using echo.
//
// Every response uses the {status, message, data} envelope. Errors returned by
// handlers are rendered by ErrorHandler, which must be installed on the echo
// instance serving these routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getkayan/console/core/access"
	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/launch"
	"github.com/getkayan/console/core/product"
	"github.com/getkayan/console/core/ratelimit"
	"github.com/getkayan/console/core/session"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const identityKey = "identity"

// SessionResolver turns the session_id query parameter into an identity.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*session.Identity, error)
}

// Telemetry receives request level metrics and spans. *telemetry.Provider
// satisfies it.
type Telemetry interface {
	RecordLaunchDuration(ctx context.Context, op string, d time.Duration)
	RecordRateLimit(ctx context.Context, route string)
	SpanSessionResolve(ctx context.Context) (context.Context, trace.Span)
	SpanAccessCheck(ctx context.Context, tenantID uint64, userID *uint64, productID uint64) (context.Context, trace.Span)
}

type noopTelemetry struct{}

func (noopTelemetry) RecordLaunchDuration(context.Context, string, time.Duration) {}
func (noopTelemetry) RecordRateLimit(context.Context, string)                     {}

func (noopTelemetry) SpanSessionResolve(ctx context.Context) (context.Context, trace.Span) {
	return noop.NewTracerProvider().Tracer("").Start(ctx, "")
}

func (noopTelemetry) SpanAccessCheck(ctx context.Context, _ uint64, _ *uint64, _ uint64) (context.Context, trace.Span) {
	return noop.NewTracerProvider().Tracer("").Start(ctx, "")
}

// RateLimit bounds token redemptions per client IP.
type RateLimit struct {
	Limiter ratelimit.Limiter
	Limit   int
	Window  time.Duration
}

type Handler struct {
	catalog  *product.Catalog
	access   *access.Checker
	sessions SessionResolver
	issuer   *launch.Issuer
	verifier *launch.Verifier

	telemetry Telemetry
	audit     *audit.Logger
	limit     RateLimit
	log       *zap.Logger
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

func WithTelemetry(t Telemetry) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.telemetry = t
		}
	}
}

func WithAudit(l *audit.Logger) HandlerOption {
	return func(h *Handler) { h.audit = l }
}

func WithRateLimit(rl RateLimit) HandlerOption {
	return func(h *Handler) { h.limit = rl }
}

func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(catalog *product.Catalog, checker *access.Checker, sessions SessionResolver, issuer *launch.Issuer, verifier *launch.Verifier, opts ...HandlerOption) *Handler {
	h := &Handler{
		catalog:   catalog,
		access:    checker,
		sessions:  sessions,
		issuer:    issuer,
		verifier:  verifier,
		telemetry: noopTelemetry{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	// Marketplace and product management
	g.GET("/products", h.HandleListProducts)
	g.GET("/products/:id", h.HandleGetProduct)
	g.POST("/products", h.HandleCreateProduct)
	g.PUT("/products/:id", h.HandleUpdateProduct)
	g.DELETE("/products/:id", h.HandleDeleteProduct)

	// Magic link
	g.GET("/products/:id/get-link", h.HandleGetLink, h.SessionMiddleware)
	g.GET("/auth/verify-token", h.HandleVerifyToken, h.rateLimitMiddleware())

	// Session scoped
	protected := g.Group("")
	protected.Use(h.SessionMiddleware)
	protected.POST("/tenant_product_maps", h.HandleSubscribe)
	protected.GET("/tenant_product_maps", h.HandleListSubscriptions)
	protected.GET("/tenant_product_maps/:id", h.HandleGetSubscription)
	protected.DELETE("/tenant_product_maps/:id", h.HandleUnsubscribe)
	protected.GET("/my-products", h.HandleTenantProducts)
	protected.GET("/my-products/:id", h.HandleTenantProduct)
	protected.GET("/user-products", h.HandleUserProducts)
}

// SessionMiddleware resolves ?session_id= and stores the identity in the context.
func (h *Handler) SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := h.telemetry.SpanSessionResolve(c.Request().Context())
		ident, err := h.sessions.Resolve(ctx, c.QueryParam("session_id"))
		span.End()
		if err != nil {
			return err
		}
		c.Set(identityKey, ident)
		return next(c)
	}
}

func (h *Handler) rateLimitMiddleware() echo.MiddlewareFunc {
	if h.limit.Limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return ratelimit.Middleware(h.limit.Limiter, ratelimit.Config{
		Limit:  h.limit.Limit,
		Window: h.limit.Window,
		OnDeny: func(c echo.Context, key string) {
			ctx := c.Request().Context()
			h.telemetry.RecordRateLimit(ctx, c.Path())
			if h.audit == nil {
				return
			}
			if err := h.audit.RateLimited(ctx, c.Path(), c.RealIP(), c.Request().UserAgent()); err != nil {
				h.log.Warn("audit: failed to record rate limit", zap.Error(err))
			}
		},
		Logger: h.log,
	})
}

func identityFrom(c echo.Context) *session.Identity {
	ident, _ := c.Get(identityKey).(*session.Identity)
	return ident
}

func paramID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

// notFoundAsProduct reports a missing record on a product route as a missing product.
func notFoundAsProduct(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return access.ErrProductMissing
	}
	return err
}

func (h *Handler) HandleListProducts(c echo.Context) error {
	items, err := h.catalog.Marketplace(c.Request().Context(), domain.ProductFilter{
		Name: c.QueryParam("product_name"),
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Products fetched successfully", items)
}

func (h *Handler) HandleGetProduct(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	listing, err := h.catalog.Listing(c.Request().Context(), id)
	if err != nil {
		return notFoundAsProduct(err)
	}
	return respond(c, http.StatusOK, "Product details fetched successfully", listing)
}

func (h *Handler) HandleCreateProduct(c echo.Context) error {
	var body domain.Product
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	body.ID = 0
	if err := h.catalog.Create(c.Request().Context(), &body); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Product created successfully", body)
}

func (h *Handler) HandleUpdateProduct(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var patch product.Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	p, err := h.catalog.Update(c.Request().Context(), id, patch)
	if err != nil {
		return notFoundAsProduct(err)
	}
	return respond(c, http.StatusOK, "Product updated successfully", p)
}

func (h *Handler) HandleDeleteProduct(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.catalog.Get(ctx, id)
	if err != nil {
		return notFoundAsProduct(err)
	}
	if err := h.catalog.Delete(ctx, id); err != nil {
		return notFoundAsProduct(err)
	}
	return respond(c, http.StatusOK, "Product deleted successfully", p)
}

// HandleGetLink checks that the caller may launch the product and returns a
// launch URL carrying a fresh magic token.
func (h *Handler) HandleGetLink(c echo.Context) error {
	productID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ident := identityFrom(c)
	start := time.Now()
	ctx := c.Request().Context()

	actx, span := h.telemetry.SpanAccessCheck(ctx, ident.TenantID, ident.UserID, productID)
	err = h.access.CanLaunch(actx, ident, productID)
	span.End()
	if err != nil {
		return err
	}

	url, err := h.issuer.Issue(ctx, launch.IssueRequest{
		ProductID: productID,
		TenantID:  ident.TenantID,
		UserID:    ident.UserID,
		UserAgent: c.Request().UserAgent(),
		ClientIP:  c.RealIP(),
	})
	h.telemetry.RecordLaunchDuration(ctx, "issue", time.Since(start))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Magic link generated successfully", url)
}

// HandleVerifyToken redeems ?token= for the calling client.
func (h *Handler) HandleVerifyToken(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()
	res, err := h.verifier.Redeem(ctx, launch.RedeemRequest{
		Token:     c.QueryParam("token"),
		UserAgent: c.Request().UserAgent(),
		ClientIP:  c.RealIP(),
	})
	h.telemetry.RecordLaunchDuration(ctx, "redeem", time.Since(start))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Token verified successfully", res)
}

func (h *Handler) HandleSubscribe(c echo.Context) error {
	var body struct {
		ProductID uint64 `json:"product_id"`
	}
	if err := c.Bind(&body); err != nil || body.ProductID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	s, err := h.access.Subscribe(c.Request().Context(), identityFrom(c).TenantID, body.ProductID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Tenant product map created successfully", s)
}

func (h *Handler) HandleListSubscriptions(c echo.Context) error {
	subs, err := h.access.ListSubscriptions(c.Request().Context(), identityFrom(c).TenantID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Tenant product maps fetched successfully", subs)
}

func (h *Handler) HandleGetSubscription(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.access.Subscription(c.Request().Context(), identityFrom(c).TenantID, id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Tenant product map details fetched successfully", s)
}

func (h *Handler) HandleUnsubscribe(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	tenantID := identityFrom(c).TenantID
	s, err := h.access.Subscription(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := h.access.Unsubscribe(ctx, tenantID, id); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Tenant product map deleted successfully", s)
}

func (h *Handler) HandleTenantProducts(c echo.Context) error {
	products, err := h.access.TenantProducts(c.Request().Context(), identityFrom(c).TenantID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Tenant products fetched successfully", listings(products, c.QueryParam("product_name")))
}

func (h *Handler) HandleTenantProduct(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	subscribed, err := h.access.IsSubscribed(ctx, identityFrom(c).TenantID, id)
	if err != nil {
		return err
	}
	if !subscribed {
		return echo.NewHTTPError(http.StatusForbidden, "Access denied - product not subscribed")
	}
	listing, err := h.catalog.Listing(ctx, id)
	if err != nil {
		return notFoundAsProduct(err)
	}
	return respond(c, http.StatusOK, "Product details fetched successfully", listing)
}

func (h *Handler) HandleUserProducts(c echo.Context) error {
	products, err := h.access.UserProducts(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "User products fetched successfully", listings(products, ""))
}

// listings hides launch URLs; name narrows the result like the marketplace filter.
func listings(products []*domain.Product, name string) []domain.ProductListing {
	name = strings.ToLower(name)
	out := make([]domain.ProductListing, 0, len(products))
	for _, p := range products {
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		out = append(out, p.Listing())
	}
	return out
}
