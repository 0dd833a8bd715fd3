package launch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/kv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// TokenParam is the query parameter that carries the token to the product.
const TokenParam = "magic_token"

// IssueRequest describes who asks to launch which product, and from where.
type IssueRequest struct {
	ProductID uint64
	TenantID  uint64
	UserID    *uint64 // nil for a tenant acting directly
	UserAgent string
	ClientIP  string
}

// Issuer mints launch tokens.
type Issuer struct {
	products domain.ProductStore
	usages   domain.TokenUsageStore
	store    kv.Store
	opts     options
}

// NewIssuer creates an Issuer writing bindings to store and usage rows to usages.
func NewIssuer(products domain.ProductStore, usages domain.TokenUsageStore, store kv.Store, opts ...Option) *Issuer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Issuer{products: products, usages: usages, store: store, opts: o}
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.opts.ttl }

// Issue mints a token for req and returns the product launch URL carrying it.
// Nothing is written when the product does not exist.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (string, error) {
	ctx, span := i.opts.tracer.Start(ctx, "console.launch.issue")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("console.product.id", int64(req.ProductID)),
		attribute.Int64("console.tenant.id", int64(req.TenantID)),
	)

	url, err := i.issue(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
		if i.opts.hooks.OnRejected != nil {
			i.opts.hooks.OnRejected(ctx, "issue", nil, req.UserAgent, req.ClientIP, err)
		}
		return "", err
	}
	return url, nil
}

func (i *Issuer) issue(ctx context.Context, req IssueRequest) (string, error) {
	product, err := i.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", ErrProductNotFound
		}
		return "", fmt.Errorf("launch: load product: %w", err)
	}

	token, err := i.opts.generate()
	if err != nil {
		return "", fmt.Errorf("launch: generate token: %w", err)
	}

	b := &Binding{
		ProductID: req.ProductID,
		UserAgent: req.UserAgent,
		ClientIP:  req.ClientIP,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
	}
	payload, err := b.Encode()
	if err != nil {
		return "", fmt.Errorf("launch: encode binding: %w", err)
	}

	if err := i.store.Set(ctx, Key(token), payload, i.opts.ttl); err != nil {
		return "", fmt.Errorf("launch: store token: %w", err)
	}

	usage := &domain.TokenUsage{
		Token:     token,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		ProductID: req.ProductID,
		CreatedAt: i.opts.clock.Now().UTC(),
	}
	if err := i.usages.CreateTokenUsage(ctx, usage); err != nil {
		// An unrecorded token must not stay redeemable.
		if derr := i.store.Delete(ctx, Key(token)); derr != nil {
			i.opts.log.Error("launch: failed to drop unrecorded token", zap.Error(derr))
		}
		return "", fmt.Errorf("launch: record usage: %w", err)
	}

	i.opts.log.Info("launch token issued",
		zap.Uint64("product_id", req.ProductID),
		zap.Uint64("tenant_id", req.TenantID),
		zap.Bool("user", req.UserID != nil),
		zap.Duration("ttl", i.opts.ttl),
	)

	if i.opts.hooks.OnIssued != nil {
		i.opts.hooks.OnIssued(ctx, req, token)
	}

	return AppendToken(product.LaunchURL, token), nil
}

// AppendToken adds the magic_token query parameter to launchURL, using '&' when
// the URL already has a query string and '?' otherwise.
func AppendToken(launchURL, token string) string {
	sep := "?"
	if strings.Contains(launchURL, "?") {
		sep = "&"
	}
	return launchURL + sep + TokenParam + "=" + token
}
