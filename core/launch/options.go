package launch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 10 * time.Second

// tokenBytes gives 256 bits of entropy; encoded length is 43 characters.
const tokenBytes = 32

// Hooks provides extension points for launch events. All hooks are optional
// and run synchronously after the outcome is known.
type Hooks struct {
	// OnIssued is called after a token was stored and its usage recorded.
	OnIssued func(ctx context.Context, req IssueRequest, token string)

	// OnRedeemed is called after a successful redemption.
	OnRedeemed func(ctx context.Context, req RedeemRequest, b *Binding)

	// OnRejected is called when Issue or Redeem fails. b is nil when the
	// binding could not be loaded.
	OnRejected func(ctx context.Context, op string, b *Binding, ua, ip string, err error)
}

// ChainHooks runs the non-nil hooks of each set in order.
func ChainHooks(sets ...Hooks) Hooks {
	return Hooks{
		OnIssued: func(ctx context.Context, req IssueRequest, token string) {
			for _, h := range sets {
				if h.OnIssued != nil {
					h.OnIssued(ctx, req, token)
				}
			}
		},
		OnRedeemed: func(ctx context.Context, req RedeemRequest, b *Binding) {
			for _, h := range sets {
				if h.OnRedeemed != nil {
					h.OnRedeemed(ctx, req, b)
				}
			}
		},
		OnRejected: func(ctx context.Context, op string, b *Binding, ua, ip string, err error) {
			for _, h := range sets {
				if h.OnRejected != nil {
					h.OnRejected(ctx, op, b, ua, ip, err)
				}
			}
		},
	}
}

type options struct {
	ttl      time.Duration
	clock    clock.Clock
	log      *zap.Logger
	tracer   trace.Tracer
	hooks    Hooks
	generate func() (string, error)
}

// Option configures an Issuer or a Verifier.
type Option func(*options)

func defaultOptions() options {
	return options{
		ttl:      DefaultTTL,
		clock:    clock.New(),
		log:      zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("launch"),
		generate: GenerateToken,
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithTokenGenerator replaces GenerateToken. Intended for tests.
func WithTokenGenerator(fn func() (string, error)) Option {
	return func(o *options) { o.generate = fn }
}

// GenerateToken returns a URL-safe random token with 256 bits of entropy.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
