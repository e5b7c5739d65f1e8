// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment
// variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example REGISTRY_DSN becomes
// registry_dsn in YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// LogFile, when non-empty, redirects logs to a size-rotated file
	// instead of stdout.
	LogFile string

	// Registry holds the persistence configuration for LogicModule,
	// LogicModuleModel, Relationship, and JoinRecord metadata.
	Registry RegistryConfig

	// Redis holds the connection URL for the registry metadata cache and the
	// inbound rate limiter. Optional: both degrade gracefully when unset.
	Redis RedisConfig

	// ClickHouse holds connection details for the join-trace analytics sink.
	// Optional — join traces fall back to slog-only logging when unset.
	ClickHouse ClickHouseConfig

	// Join controls DataMesh join execution.
	Join JoinConfig

	// UpstreamTimeout is the per-upstream-call HTTP timeout (primary and
	// sub-requests alike, unless overridden by the inbound request's own
	// deadline). Default: 30s.
	UpstreamTimeout time.Duration

	// Breaker controls the per-service circuit breaker used during join
	// fan-out (never applied to the primary call — see internal/upstream).
	Breaker BreakerConfig

	// RateLimit controls inbound request-rate limiting.
	RateLimit RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default).
	CORSOrigins []string

	// OTLPEndpoint is the OpenTelemetry collector gRPC endpoint. Empty
	// disables tracing (a no-op tracer provider is installed instead).
	OTLPEndpoint string
}

// RegistryConfig controls the backing store for registry metadata.
type RegistryConfig struct {
	// Mode selects the registry backend:
	//   "postgres" — jackc/pgx-backed store (requires DSN). Recommended for production.
	//   "memory"   — in-memory store; the standalone binary starts it empty. No external deps.
	// Default: "memory".
	Mode string

	// DSN is the PostgreSQL connection string. Required when Mode == "postgres".
	DSN string

	// AutoMigrate runs goose migrations against DSN at startup when true.
	AutoMigrate bool

	// CacheTTL is the TTL for the read-through metadata cache, which is
	// Redis-backed when Redis is configured and in-process otherwise.
	// Zero disables the cache.
	CacheTTL time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// ClickHouseConfig holds ClickHouse connection configuration.
type ClickHouseConfig struct {
	// DSN is a clickhouse:// connection string.
	DSN string
}

// JoinConfig controls DataMesh join execution.
type JoinConfig struct {
	// Concurrent selects the join executor: true uses the fan-out executor
	// (errgroup + bounded semaphore), false uses the sequential one.
	// Default: true.
	Concurrent bool

	// MaxConcurrency caps the number of sub-requests in flight at once
	// during a concurrent join. The spec only requires this be bounded by
	// the per-request plan size; this is the outer cap. Default: 32.
	MaxConcurrency int
}

// BreakerConfig controls per-upstream-service circuit breaker settings used
// during join fan-out.
type BreakerConfig struct {
	// ErrorThreshold is the number of consecutive errors that trip the breaker.
	// Default: 5.
	ErrorThreshold int

	// TimeWindow is the fixed window over which errors are counted; the count
	// restarts on the first failure after the window has elapsed, and on any
	// success.
	// Default: 60s.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: 30s.
	HalfOpenTimeout time.Duration
}

// RateLimitConfig controls inbound request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed globally.
	// 0 disables rate limiting. Default: 0.
	RPMLimit int
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REGISTRY_MODE", "memory")
	v.SetDefault("REGISTRY_CACHE_TTL", "5m")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// Join defaults.
	v.SetDefault("JOIN_CONCURRENT", true)
	v.SetDefault("JOIN_MAX_CONCURRENCY", 32)

	// Circuit breaker defaults.
	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_TIME_WINDOW", "60s")
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFile:  v.GetString("LOG_FILE"),

		Registry: RegistryConfig{
			Mode:        strings.ToLower(v.GetString("REGISTRY_MODE")),
			DSN:         v.GetString("REGISTRY_DSN"),
			AutoMigrate: v.GetBool("REGISTRY_AUTO_MIGRATE"),
			CacheTTL:    v.GetDuration("REGISTRY_CACHE_TTL"),
		},

		Redis:      RedisConfig{URL: v.GetString("REDIS_URL")},
		ClickHouse: ClickHouseConfig{DSN: v.GetString("CLICKHOUSE_DSN")},

		Join: JoinConfig{
			Concurrent:     v.GetBool("JOIN_CONCURRENT"),
			MaxConcurrency: v.GetInt("JOIN_MAX_CONCURRENCY"),
		},

		UpstreamTimeout: v.GetDuration("UPSTREAM_TIMEOUT"),

		Breaker: BreakerConfig{
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		RateLimit: RateLimitConfig{RPMLimit: v.GetInt("RPM_LIMIT")},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	switch c.Registry.Mode {
	case "postgres":
		if c.Registry.DSN == "" {
			return fmt.Errorf(
				"config: REGISTRY_DSN is required when REGISTRY_MODE=postgres; " +
					"set REGISTRY_MODE=memory to use the built-in in-memory registry",
			)
		}
	case "memory":
	default:
		return fmt.Errorf(
			"config: invalid REGISTRY_MODE %q; must be one of: postgres, memory",
			c.Registry.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Breaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.Breaker.ErrorThreshold)
	}
	if c.Breaker.TimeWindow <= 0 {
		return fmt.Errorf("config: CB_TIME_WINDOW must be a positive duration")
	}
	if c.Join.MaxConcurrency < 1 {
		return fmt.Errorf("config: JOIN_MAX_CONCURRENCY must be ≥ 1, got %d", c.Join.MaxConcurrency)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("config: UPSTREAM_TIMEOUT must be a positive duration")
	}

	return nil
}

// loadDotEnv loads .env into the process environment if the file exists.
// Missing files are not an error.
func loadDotEnv(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}
