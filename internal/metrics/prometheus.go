// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_http_request_size_bytes{route}
	httpReqSize *prometheus.HistogramVec

	// gateway_http_response_size_bytes{route,status}
	httpRespSize *prometheus.HistogramVec

	// gateway_spec_cache_ops_total{result} — per-request spec fetch cache
	specCacheOps *prometheus.CounterVec

	// gateway_resp_cache_ops_total{result} — per-request response cache
	respCacheOps *prometheus.CounterVec

	// gateway_registry_cache_ops_total{op,result} — cross-request metadata cache
	registryCacheOps *prometheus.CounterVec

	// gateway_join_plan_size{service} — number of sub-requests planned per join
	joinPlanSize *prometheus.HistogramVec

	// gateway_join_fanout_total{service,executor} — joins executed
	joinFanoutTotal *prometheus.CounterVec

	// gateway_join_partial_failures_total{service,related_service}
	joinPartialFailures *prometheus.CounterVec

	// gateway_upstream_requests_total{service,outcome}
	upstreamRequestsTotal *prometheus.CounterVec

	// gateway_upstream_request_duration_seconds{service,outcome}
	upstreamDuration *prometheus.HistogramVec

	// gateway_circuit_breaker_state{service} — 0=closed,1=open,2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// gateway_circuit_breaker_transitions_total{service,to_state}
	cbTransitions *prometheus.CounterVec

	// gateway_circuit_breaker_rejections_total{service}
	cbRejections *prometheus.CounterVec

	// gateway_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// gateway_registry_lookup_errors_total{kind}
	registryErrors *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes join fan-out)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		httpReqSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256B .. ~512KB
			},
			[]string{"route"},
		),

		httpRespSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_response_size_bytes",
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 14), // 256B .. ~2MB
			},
			[]string{"route", "status"},
		),

		specCacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_spec_cache_ops_total",
				Help: "Per-request OpenAPI spec cache lookups, by result",
			},
			[]string{"result"},
		),

		respCacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_resp_cache_ops_total",
				Help: "Per-request response cache lookups, by result",
			},
			[]string{"result"},
		),

		registryCacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_registry_cache_ops_total",
				Help: "Cross-request registry metadata cache operations, by op and result",
			},
			[]string{"op", "result"},
		),

		joinPlanSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_join_plan_size",
				Help:    "Number of sub-requests planned per DataMesh join",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
			},
			[]string{"service"},
		),

		joinFanoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_join_fanout_total",
				Help: "Total DataMesh joins executed, by service and executor (sequential/concurrent)",
			},
			[]string{"service", "executor"},
		),

		joinPartialFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_join_partial_failures_total",
				Help: "Sub-request failures during join fan-out that left an embed slot nil",
			},
			[]string{"service", "related_service"},
		),

		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Total upstream HTTP calls (primary and join sub-requests), by service and outcome",
			},
			[]string{"service", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_request_duration_seconds",
				Help:    "Upstream HTTP call duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"service", "outcome"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Per-service circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"service"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state, by service",
			},
			[]string{"service", "to_state"},
		),

		cbRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_rejections_total",
				Help: "Join sub-requests rejected outright because the breaker was open",
			},
			[]string{"service"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		registryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_registry_lookup_errors_total",
				Help: "Registry metadata lookup failures, by kind (service_not_found, model_not_found, ...)",
			},
			[]string{"kind"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.httpReqSize,
		r.httpRespSize,
		r.specCacheOps,
		r.respCacheOps,
		r.registryCacheOps,
		r.joinPlanSize,
		r.joinFanoutTotal,
		r.joinPartialFailures,
		r.upstreamRequestsTotal,
		r.upstreamDuration,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cbRejections,
		r.rateLimitTotal,
		r.registryErrors,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one inbound request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration, reqBytes, respBytes int) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	if reqBytes >= 0 {
		r.httpReqSize.WithLabelValues(route).Observe(float64(reqBytes))
	}
	if respBytes >= 0 {
		r.httpRespSize.WithLabelValues(route, status).Observe(float64(respBytes))
	}
}

func (r *Registry) SpecCacheHit()  { r.specCacheOps.WithLabelValues("hit").Inc() }
func (r *Registry) SpecCacheMiss() { r.specCacheOps.WithLabelValues("miss").Inc() }

func (r *Registry) RespCacheHit()  { r.respCacheOps.WithLabelValues("hit").Inc() }
func (r *Registry) RespCacheMiss() { r.respCacheOps.WithLabelValues("miss").Inc() }

func (r *Registry) RegistryCacheHit(op string)  { r.registryCacheOps.WithLabelValues(op, "hit").Inc() }
func (r *Registry) RegistryCacheMiss(op string) { r.registryCacheOps.WithLabelValues(op, "miss").Inc() }

// ObserveJoin records one join fan-out: its plan size and which executor ran it.
func (r *Registry) ObserveJoin(service, executor string, planSize int) {
	r.joinPlanSize.WithLabelValues(service).Observe(float64(planSize))
	r.joinFanoutTotal.WithLabelValues(service, executor).Inc()
}

func (r *Registry) RecordJoinPartialFailure(service, relatedService string) {
	r.joinPartialFailures.WithLabelValues(service, relatedService).Inc()
}

// ObserveUpstream records one upstream HTTP call (primary fetch or join sub-request).
func (r *Registry) ObserveUpstream(service, outcome string, dur time.Duration) {
	r.upstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
	r.upstreamDuration.WithLabelValues(service, outcome).Observe(dur.Seconds())
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) RecordRegistryError(kind string) {
	r.registryErrors.WithLabelValues(kind).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(service string, state int64) {
	r.circuitBreakerState.WithLabelValues(service).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[service]
	if !ok || prev != float64(state) {
		r.lastCBState[service] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(service, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCircuitBreakerRejection(service string) {
	r.cbRejections.WithLabelValues(service).Inc()
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
