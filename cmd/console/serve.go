package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkayan/console/api"
	"github.com/getkayan/console/core/access"
	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/config"
	"github.com/getkayan/console/core/health"
	"github.com/getkayan/console/core/kv"
	"github.com/getkayan/console/core/launch"
	"github.com/getkayan/console/core/logger"
	"github.com/getkayan/console/core/product"
	"github.com/getkayan/console/core/ratelimit"
	"github.com/getkayan/console/core/session"
	"github.com/getkayan/console/core/telemetry"
	"github.com/getkayan/console/kgorm"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// server owns every resource opened by serve.
type server struct {
	echo      *echo.Echo
	repo      *kgorm.Repository
	redis     *redis.Client
	telemetry *telemetry.Provider
}

func (s *server) close(ctx context.Context) error {
	var err error
	if s.telemetry != nil {
		err = multierr.Append(err, s.telemetry.Shutdown(ctx))
	}
	if s.redis != nil {
		err = multierr.Append(err, s.redis.Close())
	}
	if s.repo != nil {
		err = multierr.Append(err, s.repo.Close())
	}
	return err
}

func newServer(cfg *config.Config) (*server, error) {
	log := logger.Log
	s := &server{}

	repo, err := kgorm.NewStorage(cfg.DBType, cfg.DSN, kgorm.Options{AutoMigrate: !cfg.SkipAutoMigrate})
	if err != nil {
		return nil, err
	}
	s.repo = repo

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return s, fmt.Errorf("redis: parse url: %w", err)
	}
	s.redis = redis.NewClient(opt)

	s.telemetry, err = telemetry.NewProvider(telemetry.Config{
		ServiceName:    "console",
		ServiceVersion: version,
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   1.0,
		Enabled:        cfg.TelemetryEnabled,
	})
	if err != nil {
		return s, fmt.Errorf("telemetry: %w", err)
	}

	auditLog := audit.NewLogger(repo, audit.DefaultHooks())
	launchOpts := []launch.Option{
		launch.WithTTL(cfg.MagicTokenTTL),
		launch.WithLogger(log),
		launch.WithTracer(s.telemetry.Tracer()),
		launch.WithHooks(launch.ChainHooks(
			audit.LaunchHooks(auditLog, log),
			s.telemetry.LaunchHooks(),
		)),
	}
	tokens := kv.NewRedisStore(s.redis, cfg.RedisKeyPrefix)

	// The secret only verifies tokens minted at login; the expiry is unused.
	verifier := session.NewHS256Strategy(cfg.JWTSecret, 0)
	resolver := session.NewResolver(
		session.NewRedisVault(s.redis, cfg.SessionKeyPrefix),
		verifier,
		session.WithLogger(log),
	)

	h := api.NewHandler(
		product.NewCatalog(repo, log),
		access.NewChecker(repo, repo,
			access.WithHooks(audit.AccessHooks(auditLog, log)),
			access.WithLogger(log),
		),
		resolver,
		launch.NewIssuer(repo, repo, tokens, launchOpts...),
		launch.NewVerifier(repo, tokens, launchOpts...),
		api.WithTelemetry(s.telemetry),
		api.WithAudit(auditLog),
		api.WithRateLimit(api.RateLimit{
			Limiter: ratelimit.NewRedisLimiter(s.redis, ""),
			Limit:   cfg.VerifyRateLimit,
			Window:  cfg.VerifyRateWindow,
		}),
		api.WithLogger(log),
	)

	checks := health.NewManager(version)
	checks.Register(health.NewDatabaseChecker("database", repo.Ping))
	checks.Register(health.NewRedisChecker("redis", s.redis))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler(log)
	e.IPExtractor = api.IPExtractor(cfg.TrustProxyHeaders)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		// Query strings carry session IDs and launch tokens; only the path is logged.
		LogURIPath:  true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				log.Warn("request", fields...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.CORSOrigins}))

	checks.Mount(e)
	e.GET("/metrics", echo.WrapHandler(s.telemetry.Handler()))
	h.RegisterRoutes(e.Group(""))

	s.echo = e
	return s, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Log
	s, err := newServer(cfg)
	if err != nil {
		if s != nil {
			err = multierr.Append(err, s.close(context.Background()))
		}
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Info("console is starting",
			zap.String("addr", addr),
			zap.String("db_type", cfg.DBType),
			zap.Duration("magic_token_ttl", cfg.MagicTokenTTL),
			zap.Bool("trust_proxy_headers", cfg.TrustProxyHeaders),
		)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Combine(err, s.echo.Shutdown(shutdownCtx), s.close(shutdownCtx))
	return err
}
