package join

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
)

// Concurrent runs plan items in two phases:
//
//	Phase 1 — spec warm-up: fetch every distinct related service's OpenAPI
//	document in parallel and await all of them, turning Phase 2's spec
//	lookups into cache hits.
//	Phase 2 — fan-out: schedule every plan item in parallel, bounded by
//	min(len(items), MaxConcurrency), and await all.
type Concurrent struct {
	Deps Deps
}

// NewConcurrent builds a Concurrent executor.
func NewConcurrent(deps Deps) *Concurrent {
	return &Concurrent{Deps: deps}
}

func (c *Concurrent) Run(ctx context.Context, items []datamesh.PlanItem) {
	if len(items) == 0 {
		return
	}

	c.warmUp(ctx, items)

	maxInFlight := c.Deps.MaxConcurrency
	if maxInFlight <= 0 || maxInFlight > len(items) {
		maxInFlight = len(items)
	}
	sem := semaphore.NewWeighted(int64(maxInFlight))

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				// Context cancelled — leave this slot nil and stop, same
				// as any other sub-request failure: it does not abort
				// sibling goroutines already in flight.
				return nil
			}
			defer sem.Release(1)

			result, ok := fetchItem(gctx, c.Deps, item)
			embed(item, result, ok)
			return nil
		})
	}
	_ = g.Wait() // sub-errors are never returned — see fetchItem
}

// warmUp fetches the OpenAPI document for every distinct service
// referenced by items, in parallel, via registry lookups followed by
// specs.Cache.Warm.
func (c *Concurrent) warmUp(ctx context.Context, items []datamesh.PlanItem) {
	seen := make(map[string]struct{})
	var services []string
	for _, item := range items {
		if _, ok := seen[item.Service]; ok {
			continue
		}
		seen[item.Service] = struct{}{}
		services = append(services, item.Service)
	}

	var schemaURLs []string
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, service := range services {
		service := service
		g.Go(func() error {
			lm, err := c.Deps.Registry.GetLogicModule(gctx, service)
			if err != nil {
				return nil // unregistered service — surfaced again (and logged) during Phase 2
			}
			mu.Lock()
			schemaURLs = append(schemaURLs, lm.SchemaURL)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.Deps.Specs.Warm(ctx, schemaURLs)
}
