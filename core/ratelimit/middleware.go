package ratelimit

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Config holds configuration for Middleware.
type Config struct {
	// Limit is the maximum number of requests per key in Window. Zero disables limiting.
	Limit  int
	Window time.Duration

	// KeyFunc extracts the rate limit key. Defaults to c.RealIP().
	KeyFunc func(c echo.Context) string

	// OnDeny is called when a request is refused.
	OnDeny func(c echo.Context, key string)

	// FailOpen lets requests through when the limiter errors.
	FailOpen bool

	Logger *zap.Logger
}

// Middleware returns an echo middleware enforcing cfg with limiter. Refused
// requests end with an *Error for the HTTP error handler to render.
func Middleware(limiter Limiter, cfg Config) echo.MiddlewareFunc {
	if cfg.Limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c echo.Context) string { return c.RealIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := c.Path() + "|" + cfg.KeyFunc(c)

			allowed, remaining, err := limiter.Allow(ctx, key, cfg.Limit, cfg.Window)
			if err != nil {
				cfg.Logger.Error("rate limiter failed", zap.Error(err))
				if cfg.FailOpen {
					return next(c)
				}
				return err
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				h.Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				if cfg.OnDeny != nil {
					cfg.OnDeny(c, key)
				}
				return &Error{RetryAfter: cfg.Window, Limit: cfg.Limit}
			}
			return next(c)
		}
	}
}
