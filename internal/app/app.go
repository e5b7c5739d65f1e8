// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (Postgres, Redis) when configured
//  2. initRegistry  — registry.Registry backend, optionally cache-wrapped
//  3. initServices  — metrics registry, join-trace logger
//  4. initGateway   — the DataMesh engine's HTTP front door + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	npCache "github.com/nulpointcorp/gateway-mesh/internal/cache"
	"github.com/nulpointcorp/gateway-mesh/internal/config"
	gwlogger "github.com/nulpointcorp/gateway-mesh/internal/logger"
	"github.com/nulpointcorp/gateway-mesh/internal/metrics"
	"github.com/nulpointcorp/gateway-mesh/internal/proxy"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
	"github.com/nulpointcorp/gateway-mesh/internal/telemetry"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb    *redis.Client
	pgPool *pgxpool.Pool

	metaCache npCache.Cache
	reg       registry.Registry

	prom      *metrics.Registry
	joinLog   *gwlogger.Logger
	chSink    *gwlogger.ClickHouseSink
	tracer    *telemetry.Provider

	health *proxy.HealthChecker
	mgmt   *proxy.ManagementRoutes
	gw     *proxy.Gateway

	closeMu sync.Mutex
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"registry", a.initRegistry},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("registry_mode", a.cfg.Registry.Mode),
		slog.Bool("join_concurrent", a.cfg.Join.Concurrent),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.joinLog != nil {
		if err := a.joinLog.Close(); err != nil {
			a.log.Error("join logger close error", slog.String("error", err.Error()))
		}
		a.joinLog = nil
	}
	if a.chSink != nil {
		if err := a.chSink.Close(); err != nil {
			a.log.Error("clickhouse sink close error", slog.String("error", err.Error()))
		}
		a.chSink = nil
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.log.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		a.tracer = nil
	}
	if mc, ok := a.metaCache.(*npCache.MemoryCache); ok && mc != nil {
		mc.Close()
		a.metaCache = nil
	}
	if a.pgPool != nil {
		a.pgPool.Close()
		a.pgPool = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a zero-argument probe function suitable for the
// HealthChecker. Reuses the existing client — no new connections.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}

// pgPinger returns a zero-argument probe function for the Postgres registry.
func pgPinger(ctx context.Context, pool *pgxpool.Pool) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	}
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
