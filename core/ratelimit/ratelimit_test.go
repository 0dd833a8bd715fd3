package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

func exerciseLimiter(t *testing.T, l Limiter, mock *clock.Mock) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, err := l.Allow(ctx, "ip", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed || remaining != 2-i {
			t.Fatalf("request %d: allowed=%v remaining=%d", i, allowed, remaining)
		}
	}
	if allowed, _, _ := l.Allow(ctx, "ip", 3, time.Minute); allowed {
		t.Fatal("expected fourth request to be refused")
	}
	if allowed, _, _ := l.Allow(ctx, "other", 3, time.Minute); !allowed {
		t.Error("keys must be independent")
	}

	mock.Add(61 * time.Second)
	if allowed, _, _ := l.Allow(ctx, "ip", 3, time.Minute); !allowed {
		t.Error("expected window to slide")
	}

	_, _, _ = l.Allow(ctx, "ip", 3, time.Minute)
	_, _, _ = l.Allow(ctx, "ip", 3, time.Minute)
	if err := l.Reset(ctx, "ip"); err != nil {
		t.Fatal(err)
	}
	if allowed, _, _ := l.Allow(ctx, "ip", 3, time.Minute); !allowed {
		t.Error("expected reset to clear the window")
	}
}

func TestMemoryLimiter(t *testing.T) {
	mock := clock.NewMock()
	exerciseLimiter(t, NewMemoryLimiter(mock), mock)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	exerciseLimiter(t, NewRedisLimiter(client, "").WithClock(mock), mock)

	if !mr.Exists("console:ratelimit:ip") {
		t.Error("expected sorted set under default prefix")
	}
}

func TestMiddleware(t *testing.T) {
	e := echo.New()
	var denied []string
	mw := Middleware(NewMemoryLimiter(clock.NewMock()), Config{
		Limit:   2,
		Window:  time.Minute,
		KeyFunc: func(c echo.Context) string { return c.Request().Header.Get("X-Client") },
		OnDeny:  func(c echo.Context, key string) { denied = append(denied, key) },
	})
	e.GET("/auth/verify-token", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, mw)

	do := func(client string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodGet, "/auth/verify-token", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetPath("/auth/verify-token")
		err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
		return rec, err
	}

	for i := 0; i < 2; i++ {
		if _, err := do("a"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	rec, err := do("a")
	var limited *Error
	if !errors.As(err, &limited) || !errors.Is(err, ErrLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "60" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("unexpected headers %v", rec.Header())
	}
	if len(denied) != 1 || denied[0] != "/auth/verify-token|a" {
		t.Errorf("unexpected denials %v", denied)
	}
	if _, err := do("b"); err != nil {
		t.Errorf("other client must not be limited: %v", err)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	return false, 0, errors.New("redis down")
}
func (brokenLimiter) Reset(ctx context.Context, key string) error { return nil }

func TestMiddlewareFailure(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	closed := Middleware(brokenLimiter{}, Config{Limit: 1, Window: time.Second})
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := closed(ok)(c); err == nil {
		t.Error("expected error when failing closed")
	}

	open := Middleware(brokenLimiter{}, Config{Limit: 1, Window: time.Second, FailOpen: true})
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := open(ok)(c); err != nil {
		t.Errorf("expected request through when failing open, got %v", err)
	}

	disabled := Middleware(brokenLimiter{}, Config{Limit: 0})
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := disabled(ok)(c); err != nil {
		t.Errorf("limit 0 must disable the limiter, got %v", err)
	}
}
