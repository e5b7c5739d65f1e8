// Package join implements the join executor: given the plan items
// produced by internal/datamesh, it fetches each related record and embeds
// the result, tolerating partial failure per-item without aborting the
// overall join.
package join

import (
	"context"
	"log/slog"

	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
	"github.com/nulpointcorp/gateway-mesh/internal/resolve"
	"github.com/nulpointcorp/gateway-mesh/internal/respcache"
	"github.com/nulpointcorp/gateway-mesh/internal/specs"
	"github.com/nulpointcorp/gateway-mesh/internal/upstream"
)

// Deps bundles everything a sub-request needs, shared by both executors.
// Specs and RespCache must be the same request-scoped instances the
// primary call used, so Phase 1 warm-up and cache coalescing are
// effective.
type Deps struct {
	Registry  registry.Registry
	Specs     *specs.Cache
	RespCache *respcache.Cache
	Upstream  *upstream.Client
	Breaker   *upstream.Breaker
	Log       *slog.Logger

	// MaxConcurrency caps Phase 2 fan-out. Semantics are unaffected by the
	// cap — it only bounds resource usage.
	MaxConcurrency int
}

// Executor runs a set of plan items to completion, writing successful
// results into their target embed slots. A sub-request failure is logged
// and leaves its slot nil; it never aborts the run.
type Executor interface {
	Run(ctx context.Context, items []datamesh.PlanItem)
}

// fetchItem resolves and issues the single upstream call for item,
// returning the decoded JSON object on success. All failure modes
// (unregistered service, spec fetch failure, endpoint not found, transport
// error, non-2xx, non-object body) are logged at WARN and reported as
// ok=false — the caller leaves the embed slot untouched (nil).
func fetchItem(ctx context.Context, d Deps, item datamesh.PlanItem) (map[string]any, bool) {
	lm, err := d.Registry.GetLogicModule(ctx, item.Service)
	if err != nil {
		d.Log.WarnContext(ctx, "join_sub_request_service_not_found",
			slog.String("service", item.Service), slog.String("error", err.Error()))
		return nil, false
	}

	if d.Breaker != nil && !d.Breaker.Allow(item.Service) {
		d.Log.WarnContext(ctx, "join_sub_request_breaker_open", slog.String("service", item.Service))
		return nil, false
	}

	spec, err := d.Specs.Get(ctx, lm.SchemaURL)
	if err != nil {
		d.recordFailure(item.Service)
		d.Log.WarnContext(ctx, "join_sub_request_spec_fetch_failed",
			slog.String("service", item.Service), slog.String("error", err.Error()))
		return nil, false
	}

	model, err := d.Registry.GetModel(ctx, item.Service, item.ModelPath)
	if err != nil {
		d.Log.WarnContext(ctx, "join_sub_request_model_not_found",
			slog.String("service", item.Service), slog.String("model", item.ModelPath))
		return nil, false
	}

	method, url, err := resolve.Resolve(spec, "GET", model.Endpoint, item.PK)
	if err != nil {
		d.Log.WarnContext(ctx, "join_sub_request_endpoint_not_found",
			slog.String("service", item.Service), slog.String("pk", item.PK))
		return nil, false
	}

	fetch := func() (*upstream.Response, error) {
		return d.Upstream.Do(ctx, &upstream.Request{Method: method, URL: url})
	}

	var resp *upstream.Response
	if respcache.Eligible(method, nil) {
		resp, err = d.RespCache.Do(ctx, url, fetch)
	} else {
		resp, err = fetch()
	}
	if err != nil {
		d.recordFailure(item.Service)
		d.Log.WarnContext(ctx, "join_sub_request_transport_error",
			slog.String("service", item.Service), slog.String("error", err.Error()))
		return nil, false
	}

	if resp.Status < 200 || resp.Status >= 300 {
		d.recordFailure(item.Service)
		d.Log.WarnContext(ctx, "join_sub_request_http_error",
			slog.String("service", item.Service), slog.Int("status", resp.Status))
		return nil, false
	}

	obj, ok := resp.JSON.(map[string]any)
	if !ok {
		d.Log.WarnContext(ctx, "join_sub_request_non_object_body", slog.String("service", item.Service))
		return nil, false
	}

	d.recordSuccess(item.Service)
	return obj, true
}

func (d Deps) recordFailure(service string) {
	if d.Breaker != nil {
		d.Breaker.RecordFailure(service)
	}
}

func (d Deps) recordSuccess(service string) {
	if d.Breaker != nil {
		d.Breaker.RecordSuccess(service)
	}
}

// embed writes result into item's target slot when ok.
func embed(item datamesh.PlanItem, result map[string]any, ok bool) {
	if !ok {
		return
	}
	(*item.Embed)[item.Index] = result
}
