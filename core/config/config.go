// Package config provides environment-based configuration for the console.
//
// Configuration is loaded from environment variables using Viper, optionally
// layered over a config file, with defaults suited to local development.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: console.db
//   - SKIP_AUTO_MIGRATE: Skip automatic database migrations. Default: false
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - REDIS_URL: Redis holding launch tokens and session vaults
//   - REDIS_KEY_PREFIX: Namespace prepended to launch token keys. Default: empty
//   - SESSION_KEY_PREFIX: Prefix of session vault keys. Default: session:
//   - JWT_SECRET: HS256 secret of the session access tokens
//   - MAGIC_TOKEN_TTL: Lifetime of a launch token. Default: 10s
//   - TRUST_PROXY_HEADERS: Take the client IP from X-Forwarded-For/X-Real-IP. Default: false
//   - VERIFY_RATE_LIMIT / VERIFY_RATE_WINDOW: Redemptions per client IP per window. Default: 30 per 1m
//   - TELEMETRY_ENABLED, OTLP_ENDPOINT: Metrics and trace export
//   - CORS_ORIGINS: Comma separated allowed origins. Default: *
//
// # Example Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType          string `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN             string `mapstructure:"DSN"`
	SkipAutoMigrate bool   `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	Port            int    `mapstructure:"PORT"`

	RedisURL         string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix   string `mapstructure:"REDIS_KEY_PREFIX"`
	SessionKeyPrefix string `mapstructure:"SESSION_KEY_PREFIX"`
	JWTSecret        string `mapstructure:"JWT_SECRET"`

	MagicTokenTTL     time.Duration `mapstructure:"MAGIC_TOKEN_TTL"`
	TrustProxyHeaders bool          `mapstructure:"TRUST_PROXY_HEADERS"`
	VerifyRateLimit   int           `mapstructure:"VERIFY_RATE_LIMIT"`
	VerifyRateWindow  time.Duration `mapstructure:"VERIFY_RATE_WINDOW"`

	TelemetryEnabled bool     `mapstructure:"TELEMETRY_ENABLED"`
	OTLPEndpoint     string   `mapstructure:"OTLP_ENDPOINT"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
}

// SetDefaults registers every key on v so AutomaticEnv can see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DSN", "console.db")
	v.SetDefault("SKIP_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_KEY_PREFIX", "")
	v.SetDefault("SESSION_KEY_PREFIX", "session:")
	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("MAGIC_TOKEN_TTL", "10s")
	v.SetDefault("TRUST_PROXY_HEADERS", false)
	v.SetDefault("VERIFY_RATE_LIMIT", 30)
	v.SetDefault("VERIFY_RATE_WINDOW", "1m")

	v.SetDefault("TELEMETRY_ENABLED", true)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("CORS_ORIGINS", []string{"*"})
}

// LoadConfig reads the configuration through the global viper instance.
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper(), "")
}

// Load reads the configuration from v. When file is set it is read first and
// environment variables override it.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateServe checks the settings the HTTP server cannot run without.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.MagicTokenTTL <= 0 {
		errs = append(errs, errors.New("MAGIC_TOKEN_TTL must be positive"))
	}
	if c.VerifyRateLimit < 0 {
		errs = append(errs, errors.New("VERIFY_RATE_LIMIT must not be negative"))
	}
	if c.VerifyRateLimit > 0 && c.VerifyRateWindow <= 0 {
		errs = append(errs, errors.New("VERIFY_RATE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}
