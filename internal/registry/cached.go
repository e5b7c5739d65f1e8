package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nulpointcorp/gateway-mesh/internal/cache"
)

// cachedRegistry wraps a Registry with a read-through cache.Cache. It is the
// one place in this codebase where metadata crosses request boundaries: the
// per-request spec (internal/specs) and response (internal/respcache)
// caches are intentionally not wrapped this way.
type cachedRegistry struct {
	inner Registry
	cache cache.Cache
	ttl   time.Duration
}

// WithCache wraps reg with a read-through cache, backed by c, with entries
// expiring after ttl. GetJoinRecords is never cached — join records are
// looked up once per planner pass and are the part of the registry most
// likely to change between requests.
func WithCache(reg Registry, c cache.Cache, ttl time.Duration) Registry {
	return &cachedRegistry{inner: reg, cache: c, ttl: ttl}
}

func (r *cachedRegistry) GetLogicModule(ctx context.Context, endpointName string) (*LogicModule, error) {
	key := "registry:module:" + endpointName
	if raw, ok := r.cache.Get(ctx, key); ok {
		var m LogicModule
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
	}

	m, err := r.inner.GetLogicModule(ctx, endpointName)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(m); err == nil {
		_ = r.cache.Set(ctx, key, raw, r.ttl)
	}
	return m, nil
}

func (r *cachedRegistry) GetModel(ctx context.Context, endpointName, endpointPath string) (*LogicModuleModel, error) {
	key := fmt.Sprintf("registry:model:%s:%s", endpointName, endpointPath)
	if raw, ok := r.cache.Get(ctx, key); ok {
		var m LogicModuleModel
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
	}

	m, err := r.inner.GetModel(ctx, endpointName, endpointPath)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(m); err == nil {
		_ = r.cache.Set(ctx, key, raw, r.ttl)
	}
	return m, nil
}

func (r *cachedRegistry) GetRelationships(ctx context.Context, model *LogicModuleModel) ([]RelationshipEdge, error) {
	ref := model.Ref()
	key := fmt.Sprintf("registry:rels:%s:%s", ref.ServiceEndpointName, ref.ModelEndpoint)
	if raw, ok := r.cache.Get(ctx, key); ok {
		var edges []RelationshipEdge
		if err := json.Unmarshal(raw, &edges); err == nil {
			return edges, nil
		}
	}

	edges, err := r.inner.GetRelationships(ctx, model)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(edges); err == nil {
		_ = r.cache.Set(ctx, key, raw, r.ttl)
	}
	return edges, nil
}

func (r *cachedRegistry) GetJoinRecords(ctx context.Context, originPK string, rel Relationship, isForward bool) ([]JoinRecord, error) {
	return r.inner.GetJoinRecords(ctx, originPK, rel, isForward)
}
