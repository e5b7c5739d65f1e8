package join

import (
	"context"

	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
)

// Sequential runs plan items one at a time, in order. Total latency equals
// the sum of sub-request latencies.
type Sequential struct {
	Deps Deps
}

// NewSequential builds a Sequential executor.
func NewSequential(deps Deps) *Sequential {
	return &Sequential{Deps: deps}
}

func (s *Sequential) Run(ctx context.Context, items []datamesh.PlanItem) {
	for _, item := range items {
		result, ok := fetchItem(ctx, s.Deps, item)
		embed(item, result, ok)
	}
}
