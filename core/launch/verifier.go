package launch

import (
	"context"
	"errors"
	"fmt"

	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/kv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RedeemRequest carries the token and the fingerprint of the redeeming client.
type RedeemRequest struct {
	Token     string
	UserAgent string
	ClientIP  string
}

// Redemption is the result of a successful redemption.
type Redemption struct {
	Status string `json:"status"`
	Valid  bool   `json:"valid"`

	// Binding is the consumed record. Not serialized; callers that need the
	// tenant or user behind the token read it from here.
	Binding *Binding `json:"-"`
}

// Verifier redeems launch tokens.
type Verifier struct {
	products domain.ProductStore
	store    kv.Store
	opts     options
}

// NewVerifier creates a Verifier reading bindings from store.
func NewVerifier(products domain.ProductStore, store kv.Store, opts ...Option) *Verifier {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Verifier{products: products, store: store, opts: o}
}

// Redeem consumes the token and checks the fingerprint. The token is gone after
// the first call whatever the outcome; a failed redemption requires a new token.
func (v *Verifier) Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	ctx, span := v.opts.tracer.Start(ctx, "console.launch.redeem")
	defer span.End()

	b, err := v.redeem(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
		v.opts.log.Info("launch token rejected",
			zap.String("reason", Reason(err)),
			zap.String("ip", req.ClientIP),
		)
		if v.opts.hooks.OnRejected != nil {
			v.opts.hooks.OnRejected(ctx, "redeem", b, req.UserAgent, req.ClientIP, err)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("console.product.id", int64(b.ProductID)),
		attribute.Int64("console.tenant.id", int64(b.TenantID)),
	)
	v.opts.log.Info("launch token redeemed",
		zap.Uint64("product_id", b.ProductID),
		zap.Uint64("tenant_id", b.TenantID),
	)
	if v.opts.hooks.OnRedeemed != nil {
		v.opts.hooks.OnRedeemed(ctx, req, b)
	}

	return &Redemption{Status: "success", Valid: true, Binding: b}, nil
}

func (v *Verifier) redeem(ctx context.Context, req RedeemRequest) (*Binding, error) {
	if req.Token == "" {
		return nil, ErrInvalidOrExpired
	}

	raw, err := kv.Take(ctx, v.store, Key(req.Token), v.opts.log)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("launch: load token: %w", err)
	}

	b, err := DecodeBinding(raw)
	if err != nil {
		v.opts.log.Error("launch: corrupt binding", zap.Error(err))
		return nil, ErrInvalidOrExpired
	}

	if _, err := v.products.GetProduct(ctx, b.ProductID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return b, ErrProductNotFound
		}
		return b, fmt.Errorf("launch: load product: %w", err)
	}

	if b.UserAgent != req.UserAgent {
		return b, ErrAgentMismatch
	}
	if b.ClientIP != req.ClientIP {
		return b, ErrIPMismatch
	}

	return b, nil
}
