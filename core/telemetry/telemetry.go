// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for the console.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/getkayan/console/core/launch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
)

// Config holds the telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP gRPC endpoint for traces. Empty disables trace export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "console",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages the tracer and meter providers. A disabled Provider hands
// out no-op tracers and records nothing.
type Provider struct {
	config         Config
	registry       *prometheus.Registry
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	issued       metric.Int64Counter
	redeemed     metric.Int64Counter
	rejected     metric.Int64Counter
	rateLimited  metric.Int64Counter
	launchTiming metric.Float64Histogram
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg, registry: prometheus.NewRegistry()}
	if !cfg.Enabled {
		p.tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		return p, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("environment", cfg.Environment),
	)

	if err := p.setupTracing(res); err != nil {
		return nil, err
	}
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	switch {
	case p.config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithResource(res),
	}

	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)
	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(p.config.ServiceName)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.issued, err = p.meter.Int64Counter(
		"console.launch.issued",
		metric.WithDescription("Launch tokens issued"),
	)
	if err != nil {
		return err
	}

	p.redeemed, err = p.meter.Int64Counter(
		"console.launch.redeemed",
		metric.WithDescription("Launch tokens redeemed successfully"),
	)
	if err != nil {
		return err
	}

	p.rejected, err = p.meter.Int64Counter(
		"console.launch.rejected",
		metric.WithDescription("Launch operations rejected, by reason"),
	)
	if err != nil {
		return err
	}

	p.rateLimited, err = p.meter.Int64Counter(
		"console.rate_limited",
		metric.WithDescription("Requests refused by the rate limiter"),
	)
	if err != nil {
		return err
	}

	p.launchTiming, err = p.meter.Float64Histogram(
		"console.launch.duration",
		metric.WithDescription("Duration of issue and redeem operations"),
		metric.WithUnit("s"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	if p.tracerProvider != nil {
		err = multierr.Append(err, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		err = multierr.Append(err, p.meterProvider.Shutdown(ctx))
	}
	return err
}

// Tracer returns the tracer instance.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Handler serves the Prometheus exposition of the provider's metrics.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ---- Metric Recording Methods ----

// LaunchHooks counts issued, redeemed and rejected launch tokens.
func (p *Provider) LaunchHooks() launch.Hooks {
	return launch.Hooks{
		OnIssued: func(ctx context.Context, req launch.IssueRequest, token string) {
			if p.issued != nil {
				p.issued.Add(ctx, 1)
			}
		},
		OnRedeemed: func(ctx context.Context, req launch.RedeemRequest, b *launch.Binding) {
			if p.redeemed != nil {
				p.redeemed.Add(ctx, 1)
			}
		},
		OnRejected: func(ctx context.Context, op string, b *launch.Binding, ua, ip string, err error) {
			if p.rejected != nil {
				p.rejected.Add(ctx, 1, metric.WithAttributes(
					attribute.String("op", op),
					attribute.String("reason", launch.Reason(err)),
				))
			}
		},
	}
}

// RecordLaunchDuration records how long an issue or redeem call took.
func (p *Provider) RecordLaunchDuration(ctx context.Context, op string, d time.Duration) {
	if p.launchTiming == nil {
		return
	}
	p.launchTiming.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}

// RecordRateLimit records a refused request.
func (p *Provider) RecordRateLimit(ctx context.Context, route string) {
	if p.rateLimited == nil {
		return
	}
	p.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}
