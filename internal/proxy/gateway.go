// Package proxy implements the gateway's HTTP front door: it parses the
// inbound "/{service}/{model}[/{pk}]/" route, then composes the operation
// resolver, upstream client, response cache, DataMesh join planner, and
// join executor into a single request lifecycle, finishing with the
// response assembler.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nulpointcorp/gateway-mesh/internal/assemble"
	"github.com/nulpointcorp/gateway-mesh/internal/config"
	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
	"github.com/nulpointcorp/gateway-mesh/internal/gwerr"
	"github.com/nulpointcorp/gateway-mesh/internal/join"
	gwlogger "github.com/nulpointcorp/gateway-mesh/internal/logger"
	"github.com/nulpointcorp/gateway-mesh/internal/metrics"
	"github.com/nulpointcorp/gateway-mesh/internal/ratelimit"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
	"github.com/nulpointcorp/gateway-mesh/internal/resolve"
	"github.com/nulpointcorp/gateway-mesh/internal/respcache"
	"github.com/nulpointcorp/gateway-mesh/internal/specs"
	"github.com/nulpointcorp/gateway-mesh/internal/telemetry"
	"github.com/nulpointcorp/gateway-mesh/internal/upstream"
	"github.com/nulpointcorp/gateway-mesh/pkg/apierr"
)

// GatewayOptions configures a Gateway at construction time.
type GatewayOptions struct {
	Logger *slog.Logger

	// Fetcher retrieves OpenAPI documents for the per-request spec cache.
	// Defaults to an HTTP fetcher when nil.
	Fetcher specs.Fetcher

	// Upstream issues outbound calls. Defaults to a plain net/http
	// client when nil.
	Upstream *upstream.Client

	Join    config.JoinConfig
	Breaker upstream.BreakerConfig

	Metrics     *metrics.Registry
	JoinLogger  *gwlogger.Logger
	CORSOrigins []string

	// Tracer emits one span per inbound request plus child spans for the
	// primary fetch and the join fan-out. A nil Tracer is replaced by a
	// no-op provider, so callers may always omit it.
	Tracer *telemetry.Provider
}

// Gateway holds everything shared across inbound requests: the registry
// (itself possibly cache-wrapped), a breaker shared across join
// fan-outs, and the optional cross-cutting concerns (rate limiting,
// metrics, CORS, health). The spec and response caches are instead
// request-scoped and built fresh per dispatch — see internal/specs and
// internal/respcache.
type Gateway struct {
	baseCtx context.Context
	log     *slog.Logger

	reg      registry.Registry
	fetcher  specs.Fetcher
	upstream *upstream.Client
	breaker  *upstream.Breaker

	joinCfg config.JoinConfig

	metrics *metrics.Registry
	joinLog *gwlogger.Logger
	tracer  *telemetry.Provider

	rateLimiter *ratelimit.RPMLimiter
	corsOrigins []string
	health      *HealthChecker
}

// NewGatewayWithOptions builds a Gateway over reg using opts. Missing
// optional fields are defaulted: Fetcher to an HTTP fetcher, Upstream to a
// plain client, Logger to slog.Default().
func NewGatewayWithOptions(ctx context.Context, reg registry.Registry, opts GatewayOptions) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = specs.NewHTTPFetcher(nil)
	}

	upstreamClient := opts.Upstream
	if upstreamClient == nil {
		upstreamClient = upstream.New(nil)
	}

	return &Gateway{
		baseCtx:     ctx,
		log:         log,
		reg:         reg,
		fetcher:     fetcher,
		upstream:    upstreamClient,
		breaker:     upstream.NewBreaker(opts.Breaker),
		joinCfg:     opts.Join,
		metrics:     opts.Metrics,
		joinLog:     opts.JoinLogger,
		corsOrigins: opts.CORSOrigins,
		tracer:      opts.Tracer,
	}
}

// noopTracer backs startSpan when no tracer is configured, so callers can
// unconditionally start and end spans.
var noopTracer = noop.NewTracerProvider().Tracer("gateway-mesh")

// startSpan starts a child span when a tracer is configured, otherwise
// starts a no-op span so callers never need a nil check.
func (g *Gateway) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if g.tracer == nil {
		return noopTracer.Start(ctx, name)
	}
	return g.tracer.StartSpan(ctx, name)
}

// SetRateLimiters installs the inbound rate limiter. nil disables limiting.
func (g *Gateway) SetRateLimiters(l *ratelimit.RPMLimiter) { g.rateLimiter = l }

// SetCORSOrigins overrides the allowed CORS origins.
func (g *Gateway) SetCORSOrigins(origins []string) { g.corsOrigins = origins }

// SetHealth installs the health checker consulted by GET /health and
// GET /readiness.
func (g *Gateway) SetHealth(h *HealthChecker) { g.health = h }

// handleDispatch is the engine's single entry point, registered
// for every method against both route shapes in router.go.
func (g *Gateway) handleDispatch(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	service, _ := ctx.UserValue("service").(string)
	model, _ := ctx.UserValue("model").(string)
	pk, _ := ctx.UserValue("pk").(string)
	method := string(ctx.Method())

	spanCtx, span := g.startSpan(ctx, "gateway.dispatch")
	span.SetAttributes(
		attribute.String("gateway.service", service),
		attribute.String("gateway.model", model),
	)
	defer span.End()

	if g.rateLimiter != nil {
		allowed, _ := g.rateLimiter.Allow(ctx)
		if g.metrics != nil {
			if allowed {
				g.metrics.RecordRateLimit("allowed")
			} else {
				g.metrics.RecordRateLimit("blocked")
			}
		}
		if !allowed {
			apierr.WriteRateLimit(ctx)
			return
		}
	}

	query := parseQuery(ctx.QueryArgs())
	joinRequested := takeJoin(query)

	trace := gwlogger.JoinTrace{
		ID:        uuid.New(),
		Service:   service,
		Model:     model,
		CreatedAt: time.Now(),
	}

	status, respHeaders, body, planSize, fanOut, partialFails, cacheHit, dispatchErr :=
		g.dispatch(spanCtx, ctx, service, modelPath(model), pk, method, query, joinRequested)

	trace.PlanSize = planSize
	trace.FanOutCount = fanOut
	trace.PartialFails = partialFails
	trace.RespCacheHit = cacheHit

	if dispatchErr != nil {
		telemetry.RecordError(span, dispatchErr)
		writeGatewayError(ctx, dispatchErr)
		trace.Status = uint16(ctx.Response.StatusCode())
	} else {
		writeUpstreamResponse(ctx, status, respHeaders, body)
		trace.Status = uint16(status)
	}

	trace.LatencyMs = uint32(time.Since(start).Milliseconds())
	if g.joinLog != nil {
		g.joinLog.Log(trace)
	}
	if g.metrics != nil {
		g.metrics.ObserveHTTP("dispatch", int(trace.Status), time.Since(start), len(ctx.PostBody()), len(body))
		if planSize > 0 {
			executor := "sequential"
			if g.joinCfg.Concurrent {
				executor = "concurrent"
			}
			g.metrics.ObserveJoin(service, executor, planSize)
			for i := 0; i < partialFails; i++ {
				g.metrics.RecordJoinPartialFailure(service, "")
			}
		}
	}
}

// dispatch performs the primary call and, when requested and eligible, the
// DataMesh join fan-out. It never panics on upstream shape surprises —
// every failure is returned as an error the caller classifies via
// writeGatewayError.
func (g *Gateway) dispatch(
	spanCtx context.Context,
	ctx *fasthttp.RequestCtx,
	service, modelEndpoint, pk, method string,
	query url.Values,
	joinRequested bool,
) (status int, headers map[string]string, body []byte, planSize, fanOut, partialFails int, cacheHit bool, err error) {
	specCache := specs.New(g.fetcher)
	respCache := respcache.New()

	lm, err := g.reg.GetLogicModule(spanCtx, service)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordRegistryError("service_not_found")
		}
		return 0, nil, nil, 0, 0, 0, false, err
	}

	specSpanCtx, specSpan := g.startSpan(spanCtx, "gateway.spec_fetch")
	spec, err := specCache.Get(specSpanCtx, lm.SchemaURL)
	if err != nil {
		telemetry.RecordError(specSpan, err)
		specSpan.End()
		return 0, nil, nil, 0, 0, 0, false, err
	}
	specSpan.End()

	mdl, err := g.reg.GetModel(spanCtx, service, modelEndpoint)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordRegistryError("model_not_found")
		}
		return 0, nil, nil, 0, 0, 0, false, err
	}

	httpMethod, outboundURL, err := resolve.Resolve(spec, method, modelEndpoint, pk)
	if err != nil {
		return 0, nil, nil, 0, 0, 0, false, err
	}

	req, err := buildUpstreamRequest(ctx, httpMethod, outboundURL, query)
	if err != nil {
		return 0, nil, nil, 0, 0, 0, false, gwerr.New(gwerr.KindUpstreamTransport, "build primary request", err)
	}

	primarySpanCtx, primarySpan := g.startSpan(spanCtx, "gateway.primary_fetch")
	fetch := func() (*upstream.Response, error) {
		return g.upstream.Do(primarySpanCtx, req)
	}

	var resp *upstream.Response
	if respcache.Eligible(httpMethod, query) {
		if _, hit := respCache.Get(outboundURL); hit {
			cacheHit = true
			if g.metrics != nil {
				g.metrics.RespCacheHit()
			}
		} else if g.metrics != nil {
			g.metrics.RespCacheMiss()
		}
		resp, err = respCache.Do(primarySpanCtx, outboundURL, fetch)
	} else {
		resp, err = fetch()
	}
	if err != nil {
		telemetry.RecordError(primarySpan, err)
		primarySpan.End()
		return 0, nil, nil, 0, 0, 0, cacheHit, err
	}
	primarySpan.End()

	// Primary status and headers are final regardless of what the join
	// fan-out does below: the primary path is fail-closed up to this
	// point, fail-open from here on.
	status = resp.Status
	headers = resp.Headers

	if !joinRequested || status < 200 || status >= 300 || !resp.IsJSON() {
		return status, headers, resp.Raw, 0, 0, 0, cacheHit, nil
	}

	value := datamesh.From(resp.JSON)
	if !value.IsJoinable() {
		return status, headers, resp.Raw, 0, 0, 0, cacheHit, nil
	}

	planSpanCtx, planSpan := g.startSpan(spanCtx, "gateway.join_plan")
	items, err := datamesh.Plan(planSpanCtx, value, mdl, g.reg)
	if err != nil {
		telemetry.RecordError(planSpan, err)
		planSpan.End()
		return 0, nil, nil, 0, 0, 0, cacheHit, err
	}
	planSpan.End()

	planSize = len(items)
	if planSize > 0 {
		deps := join.Deps{
			Registry:       g.reg,
			Specs:          specCache,
			RespCache:      respCache,
			Upstream:       g.upstream,
			Breaker:        g.breaker,
			Log:            g.log,
			MaxConcurrency: g.joinCfg.MaxConcurrency,
		}

		var executor join.Executor
		if g.joinCfg.Concurrent {
			executor = join.NewConcurrent(deps)
		} else {
			executor = join.NewSequential(deps)
		}

		execSpanCtx, execSpan := g.startSpan(spanCtx, "gateway.join_execute")
		executor.Run(execSpanCtx, items)
		execSpan.End()

		fanOut = planSize
		partialFails = countUnfilled(items)
	}

	body, merr := assemble.Marshal(value)
	if merr != nil {
		return 0, nil, nil, planSize, fanOut, partialFails, cacheHit,
			gwerr.New(gwerr.KindUpstreamTransport, "assemble joined response", merr)
	}

	return status, headers, body, planSize, fanOut, partialFails, cacheHit, nil
}

// countUnfilled reports how many plan items never got a result embedded,
// for the join trace's partial-failure count.
func countUnfilled(items []datamesh.PlanItem) int {
	n := 0
	for _, item := range items {
		if (*item.Embed)[item.Index] == nil {
			n++
		}
	}
	return n
}

// buildUpstreamRequest translates the inbound fasthttp request into an
// upstream.Request, applying the gateway's body-encoding rules.
func buildUpstreamRequest(ctx *fasthttp.RequestCtx, method, targetURL string, query url.Values) (*upstream.Request, error) {
	req := &upstream.Request{
		Method:  method,
		URL:     targetURL,
		Query:   query,
		Headers: map[string]string{},
	}

	if auth := ctx.Request.Header.Peek("Authorization"); len(auth) > 0 {
		req.Headers["Authorization"] = string(auth)
	}

	switch method {
	case "GET", "DELETE":
		return req, nil
	}

	contentType := string(ctx.Request.Header.ContentType())
	if isJSONContentType(contentType) {
		req.JSONBody = append([]byte(nil), ctx.PostBody()...)
		return req, nil
	}

	if form, ferr := ctx.MultipartForm(); ferr == nil && form != nil {
		req.FormBody = url.Values{}
		for k, vs := range form.Value {
			for _, v := range vs {
				req.FormBody.Add(k, v)
			}
		}
		for field, headers := range form.File {
			for _, fh := range headers {
				part, err := readFilePart(field, fh)
				if err != nil {
					return nil, err
				}
				req.Files = append(req.Files, part)
			}
		}
		return req, nil
	}

	req.FormBody = url.Values{}
	ctx.PostArgs().VisitAll(func(key, value []byte) {
		req.FormBody.Add(string(key), string(value))
	})
	return req, nil
}

func readFilePart(field string, fh *multipart.FileHeader) (upstream.FilePart, error) {
	f, err := fh.Open()
	if err != nil {
		return upstream.FilePart{}, err
	}
	defer f.Close()

	content := make([]byte, fh.Size)
	if _, err := io.ReadFull(f, content); err != nil && !errors.Is(err, io.EOF) {
		return upstream.FilePart{}, err
	}

	mimeType := fh.Header.Get("Content-Type")
	return upstream.FilePart{
		FieldName: field,
		FileName:  fh.Filename,
		Content:   content,
		MIMEType:  mimeType,
	}, nil
}

func isJSONContentType(ct string) bool {
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	return ct == "application/json"
}

// writeUpstreamResponse copies the primary upstream response onto the
// gateway's own response, unmodified except for hop-by-hop headers fasthttp
// must recompute itself.
func writeUpstreamResponse(ctx *fasthttp.RequestCtx, status int, headers map[string]string, body []byte) {
	ctx.SetStatusCode(status)
	for k, v := range headers {
		if _, skip := hopByHopResponseHeaders[k]; skip {
			continue
		}
		ctx.Response.Header.Set(k, v)
	}
	ctx.SetBody(body)
}

// writeGatewayError classifies a primary-path failure and writes the
// corresponding client-facing error. Registry sentinel errors and
// *gwerr.GatewayError are both recognized.
func writeGatewayError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, registry.ErrServiceNotFound):
		service, _ := ctx.UserValue("service").(string)
		apierr.WriteServiceNotFound(ctx, service)
		return
	case errors.Is(err, registry.ErrModelNotFound):
		apierr.WriteEndpointNotFound(ctx, string(ctx.Method()), string(ctx.Path()))
		return
	}

	var gerr *gwerr.GatewayError
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case gwerr.KindEndpointNotFound:
			apierr.WriteEndpointNotFound(ctx, string(ctx.Method()), string(ctx.Path()))
		case gwerr.KindDataMeshConfig:
			apierr.WriteDataMeshConfigError(ctx, gerr.Error())
		case gwerr.KindSpecFetchFailure, gwerr.KindUpstreamTransport:
			apierr.WriteUpstreamError(ctx, fasthttp.StatusBadGateway, gerr.Error())
		default:
			apierr.Write(ctx, fasthttp.StatusBadGateway, gerr.Error(), apierr.TypeUpstreamError, apierr.CodeUpstreamError)
		}
		return
	}

	apierr.Write(ctx, fasthttp.StatusInternalServerError, "internal server error", apierr.TypeServerError, apierr.CodeInternalError)
}
