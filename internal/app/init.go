package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	npCache "github.com/nulpointcorp/gateway-mesh/internal/cache"
	gwlogger "github.com/nulpointcorp/gateway-mesh/internal/logger"
	"github.com/nulpointcorp/gateway-mesh/internal/metrics"
	"github.com/nulpointcorp/gateway-mesh/internal/proxy"
	"github.com/nulpointcorp/gateway-mesh/internal/ratelimit"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
	"github.com/nulpointcorp/gateway-mesh/internal/registry/migrations"
	"github.com/nulpointcorp/gateway-mesh/internal/specs"
	"github.com/nulpointcorp/gateway-mesh/internal/telemetry"
	"github.com/nulpointcorp/gateway-mesh/internal/upstream"
)

// initInfra establishes optional external connections. Postgres is required
// when REGISTRY_MODE=postgres; Redis is optional in every mode (registry
// metadata cache and/or rate limiting).
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Registry.Mode == "postgres" {
		a.log.Info("connecting to registry database")

		pool, err := pgxpool.New(ctx, a.cfg.Registry.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("postgres: ping: %w", err)
		}
		a.pgPool = pool

		if err := migrations.RunIfEnabled(ctx, pool, a.cfg.Registry.AutoMigrate); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}

		a.log.Info("registry database connected")
	}

	if a.cfg.Redis.URL != "" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initRegistry builds the Registry backend and, when a positive registry
// cache TTL is configured, wraps it with a read-through cache (see
// internal/registry.WithCache). The cache is Redis-backed when a Redis
// connection is available and an in-process MemoryCache otherwise. A zero or
// negative TTL leaves the backend unwrapped.
func (a *App) initRegistry(ctx context.Context) error {
	var base registry.Registry
	switch a.cfg.Registry.Mode {
	case "postgres":
		base = registry.NewPostgresRegistry(a.pgPool)
	case "memory":
		// No external store: seed data is supplied programmatically by
		// embedders of this package. The standalone binary starts with an
		// empty registry, enough to exercise the error paths but not to
		// serve real traffic.
		base = registry.NewMemoryRegistry(nil, nil, nil, nil)
	default:
		return fmt.Errorf("unknown registry mode: %s", a.cfg.Registry.Mode)
	}

	if a.cfg.Registry.CacheTTL <= 0 {
		a.reg = base
		return nil
	}

	var metaCache npCache.Cache
	if a.rdb != nil {
		metaCache = npCache.NewExactCacheFromClient(a.rdb)
	} else {
		mc := npCache.NewMemoryCache(ctx)
		a.metaCache = mc
		metaCache = mc
	}

	a.reg = registry.WithCache(base, metaCache, a.cfg.Registry.CacheTTL)
	return nil
}

// initServices creates the Prometheus metrics registry and the async
// join-trace logger, wiring a ClickHouse sink when configured.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	tracer, err := telemetry.New(ctx, telemetry.Config{
		Endpoint:    a.cfg.OTLPEndpoint,
		ServiceName: "gateway-mesh",
		Version:     a.version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.tracer = tracer
	if a.cfg.OTLPEndpoint != "" {
		a.log.Info("tracing enabled", slog.String("otlp_endpoint", a.cfg.OTLPEndpoint))
	}

	var sink gwlogger.Sink
	if a.cfg.ClickHouse.DSN != "" {
		chSink, err := gwlogger.NewClickHouseSink(a.cfg.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		if err := chSink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse: ensure schema: %w", err)
		}
		a.chSink = chSink
		sink = chSink
		a.log.Info("join-trace sink: clickhouse")
	} else {
		a.log.Info("join-trace sink: slog-only")
	}

	joinLog, err := gwlogger.New(a.baseCtx, a.log, sink)
	if err != nil {
		return fmt.Errorf("join logger: %w", err)
	}
	a.joinLog = joinLog

	return nil
}

// initGateway wires the DataMesh engine together with all configured
// subsystems.
func (a *App) initGateway(ctx context.Context) error {
	// One timeout for every outbound call, OpenAPI fetches included. The
	// inbound request's own deadline, when shorter, still wins — contexts
	// propagate through both clients.
	httpClient := &http.Client{Timeout: a.cfg.UpstreamTimeout}

	opts := proxy.GatewayOptions{
		Logger:      a.log,
		Fetcher:     specs.NewHTTPFetcher(httpClient),
		Upstream:    upstream.New(httpClient),
		Join:        a.cfg.Join,
		Breaker:     upstream.BreakerConfig(a.cfg.Breaker),
		Metrics:     a.prom,
		JoinLogger:  a.joinLog,
		CORSOrigins: a.cfg.CORSOrigins,
		Tracer:      a.tracer,
	}

	gw := proxy.NewGatewayWithOptions(a.baseCtx, a.reg, opts)

	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		gw.SetRateLimiters(ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit))
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	var cacheReady func() bool
	if a.rdb != nil {
		cacheReady = redisPinger(ctx, a.rdb)
	}

	var dbReady func() bool
	if a.pgPool != nil {
		dbReady = pgPinger(ctx, a.pgPool)
	}

	health := proxy.NewHealthChecker(a.baseCtx, dbReady, cacheReady, a.prom)
	gw.SetHealth(health)
	a.health = health

	a.mgmt = &proxy.ManagementRoutes{Metrics: a.prom.Handler()}
	a.gw = gw

	return nil
}
