package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getkayan/console/core/launch"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestProviderRecordsLaunchMetrics(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	hooks := p.LaunchHooks()
	hooks.OnIssued(ctx, launch.IssueRequest{ProductID: 1}, "tok")
	hooks.OnRedeemed(ctx, launch.RedeemRequest{Token: "tok"}, &launch.Binding{ProductID: 1})
	hooks.OnRejected(ctx, "redeem", nil, "", "", launch.ErrInvalidOrExpired)
	p.RecordLaunchDuration(ctx, "issue", 3*time.Millisecond)
	p.RecordRateLimit(ctx, "/auth/verify-token")

	body := scrape(t, p)
	for _, want := range []string{
		"console_launch_issued",
		"console_launch_redeemed",
		`reason="invalid_or_expired"`,
		"console_launch_duration",
		"console_rate_limited",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %s", want)
		}
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(Config{ServiceName: "console"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, span := p.StartSpan(context.Background(), "console.launch.issue", SpanOptions{TenantID: 1})
	EndSpan(span, nil)
	if span.SpanContext().IsValid() {
		t.Error("expected no-op span from disabled provider")
	}
	p.RecordLaunchDuration(ctx, "issue", time.Second)
	p.LaunchHooks().OnIssued(ctx, launch.IssueRequest{}, "tok")

	if strings.Contains(scrape(t, p), "console_launch") {
		t.Error("disabled provider must not export launch metrics")
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestEnabledProviderTraces(t *testing.T) {
	p, err := NewProvider(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background())

	uid := uint64(5)
	_, span := p.SpanAccessCheck(context.Background(), 1, &uid, 2)
	if !span.SpanContext().IsValid() {
		t.Error("expected sampled span")
	}
	EndSpan(span, nil)
}
