package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
const (
	AttrTenantID  = "console.tenant.id"
	AttrUserID    = "console.user.id"
	AttrProductID = "console.product.id"
	AttrIPAddress = "console.client.ip"
)

// SpanOptions provides configuration for span creation.
type SpanOptions struct {
	TenantID  uint64
	UserID    *uint64
	ProductID uint64
	IPAddress string
}

// StartSpan starts a new span with the console attributes that are set.
func (p *Provider) StartSpan(ctx context.Context, name string, opts SpanOptions) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if opts.TenantID != 0 {
		attrs = append(attrs, attribute.String(AttrTenantID, strconv.FormatUint(opts.TenantID, 10)))
	}
	if opts.UserID != nil {
		attrs = append(attrs, attribute.String(AttrUserID, strconv.FormatUint(*opts.UserID, 10)))
	}
	if opts.ProductID != 0 {
		attrs = append(attrs, attribute.String(AttrProductID, strconv.FormatUint(opts.ProductID, 10)))
	}
	if opts.IPAddress != "" {
		attrs = append(attrs, attribute.String(AttrIPAddress, opts.IPAddress))
	}
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// SpanSessionResolve starts a span for session resolution.
func (p *Provider) SpanSessionResolve(ctx context.Context) (context.Context, trace.Span) {
	return p.StartSpan(ctx, "console.session.resolve", SpanOptions{})
}

// SpanAccessCheck starts a span for a launch permission check.
func (p *Provider) SpanAccessCheck(ctx context.Context, tenantID uint64, userID *uint64, productID uint64) (context.Context, trace.Span) {
	return p.StartSpan(ctx, "console.access.check", SpanOptions{
		TenantID:  tenantID,
		UserID:    userID,
		ProductID: productID,
	})
}

// EndSpan ends a span, marking it failed when err is set.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
