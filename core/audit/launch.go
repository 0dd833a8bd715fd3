package audit

import (
	"context"
	"strconv"

	"github.com/getkayan/console/core/launch"
	"github.com/google/uuid"
	ua "github.com/mileusna/useragent"
	"go.uber.org/zap"
)

// DefaultHooks generates UUID event IDs and expands the user agent into
// browser, OS and device metadata.
func DefaultHooks() Hooks {
	return Hooks{
		IDGenerator: func() string { return uuid.NewString() },
		EnrichEvent: EnrichUserAgent,
	}
}

// EnrichUserAgent adds the parsed browser, OS and device class of the event's user agent.
func EnrichUserAgent(ctx context.Context, e *Event) error {
	if e.UserAgent == "" {
		return nil
	}
	parsed := ua.Parse(e.UserAgent)
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	if parsed.Name != "" {
		e.Metadata["browser"] = parsed.Name
		e.Metadata["browser_version"] = parsed.Version
	}
	if parsed.OS != "" {
		e.Metadata["os"] = parsed.OS
	}
	switch {
	case parsed.Bot:
		e.Metadata["device"] = "bot"
	case parsed.Tablet:
		e.Metadata["device"] = "tablet"
	case parsed.Mobile:
		e.Metadata["device"] = "mobile"
	case parsed.Desktop:
		e.Metadata["device"] = "desktop"
	}
	return nil
}

// LaunchHooks records launch lifecycle events. Failures to write are logged
// and never reach the caller of Issue or Redeem.
func LaunchHooks(l *Logger, log *zap.Logger) launch.Hooks {
	if log == nil {
		log = zap.NewNop()
	}
	save := func(ctx context.Context, e *Event) {
		if err := l.Log(ctx, e); err != nil {
			log.Warn("audit: failed to record event", zap.String("type", e.Type), zap.Error(err))
		}
	}

	return launch.Hooks{
		OnIssued: func(ctx context.Context, req launch.IssueRequest, token string) {
			save(ctx, NewEvent(EventTokenIssued).
				Success().
				Tenant(req.TenantID).
				User(req.UserID).
				Client(req.ClientIP, req.UserAgent).
				Resource("product", strconv.FormatUint(req.ProductID, 10)).
				Build())
		},
		OnRedeemed: func(ctx context.Context, req launch.RedeemRequest, b *launch.Binding) {
			save(ctx, NewEvent(EventTokenRedeemed).
				Success().
				Tenant(b.TenantID).
				User(b.UserID).
				Client(req.ClientIP, req.UserAgent).
				Resource("product", strconv.FormatUint(b.ProductID, 10)).
				Build())
		},
		OnRejected: func(ctx context.Context, op string, b *launch.Binding, userAgent, ip string, err error) {
			reason := launch.Reason(err)
			builder := NewEvent(EventTokenRejected).
				Failure(reason).
				Client(ip, userAgent).
				Meta("op", op)
			switch reason {
			case launch.ReasonAgentMismatch, launch.ReasonIPMismatch:
				builder.Blocked(reason).Risk(RiskHigh)
			case launch.ReasonInternal:
				builder.Risk(RiskMedium)
			}
			if b != nil {
				builder.Tenant(b.TenantID).
					User(b.UserID).
					Resource("product", strconv.FormatUint(b.ProductID, 10)).
					Meta("bound_ip", b.ClientIP)
			}
			save(ctx, builder.Build())
		},
	}
}
