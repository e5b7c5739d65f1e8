package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/gateway-mesh/internal/metrics"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker runs background probes against the registry's backing store
// and the optional metadata cache, and exposes the latest results. The
// gateway has exactly two external dependencies to probe: the registry
// store (dbReady) and the registry metadata cache (cacheReady). Upstream services referenced by
// LogicModules are not probed here — their health is the per-service
// circuit breaker's job (internal/upstream.Breaker), scoped to join
// fan-out, not the gateway's own liveness.
type HealthChecker struct {
	dbReady    func() bool
	cacheReady func() bool
	baseCtx    context.Context
	metrics    *metrics.Registry

	cacheStatus componentStatus
	dbStatus    componentStatus

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. Either probe func may be nil, meaning that dependency is not
// configured and is reported "ok" unconditionally.
func NewHealthChecker(ctx context.Context, dbReady, cacheReady func() bool, met *metrics.Registry) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		dbReady:    dbReady,
		cacheReady: cacheReady,
		startTime:  time.Now(),
		done:       make(chan struct{}),
		baseCtx:    ctx,
		metrics:    met,
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Registry      string `json:"registry"`
	Cache         string `json:"cache"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	db := hc.dbStatus.get()
	cache := hc.cacheStatus.get()

	if db == "down" {
		overall = "degraded"
	}
	if cache == "degraded" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Registry:      db,
		Cache:         cache,
	}
}

// ReadinessOK returns true when the registry store is reachable (used by
// GET /readiness for Kubernetes probes). The metadata cache is an
// optional accelerator, not a readiness dependency.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.dbStatus.get() == "ok"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	_, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.dbReady == nil || hc.dbReady() {
			hc.dbStatus.set("ok")
		} else {
			hc.dbStatus.set("down")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.cacheReady == nil || hc.cacheReady() {
			hc.cacheStatus.set("ok")
		} else {
			hc.cacheStatus.set("degraded")
		}
	}()

	wg.Wait()
}
