package audit

import (
	"context"
	"strconv"

	"github.com/getkayan/console/core/access"
	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/session"
	"go.uber.org/zap"
)

// AccessHooks records refused launches and new subscriptions.
func AccessHooks(l *Logger, log *zap.Logger) access.Hooks {
	if log == nil {
		log = zap.NewNop()
	}
	return access.Hooks{
		OnDenied: func(ctx context.Context, ident *session.Identity, productID uint64, err error) {
			e := NewEvent(EventLaunchDenied).
				Blocked(err.Error()).
				Tenant(ident.TenantID).
				User(ident.UserID).
				Resource("product", strconv.FormatUint(productID, 10)).
				Meta("role", ident.Role).
				Build()
			if lerr := l.Log(ctx, e); lerr != nil {
				log.Warn("audit: failed to record event", zap.String("type", e.Type), zap.Error(lerr))
			}
		},
		OnSubscribed: func(ctx context.Context, s *domain.Subscription) {
			e := NewEvent(EventSubscribed).
				Success().
				Tenant(s.TenantID).
				Resource("product", strconv.FormatUint(s.ProductID, 10)).
				Meta("subscription_id", strconv.FormatUint(s.ID, 10)).
				Build()
			if lerr := l.Log(ctx, e); lerr != nil {
				log.Warn("audit: failed to record event", zap.String("type", e.Type), zap.Error(lerr))
			}
		},
	}
}

// RateLimited records a request refused by the rate limiter.
func (l *Logger) RateLimited(ctx context.Context, route, ip, userAgent string) error {
	return l.Log(ctx, NewEvent(EventRateLimited).
		Blocked("rate_limited").
		Client(ip, userAgent).
		Risk(RiskMedium).
		Meta("route", route).
		Build())
}
