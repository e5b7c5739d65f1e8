package registry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRegistry is an in-memory Registry backed by data supplied at
// construction time. It has no external dependencies and is the default
// registry mode — suitable for tests and for small embedded deployments
// that don't need a durable store.
type MemoryRegistry struct {
	mu sync.RWMutex

	modules       map[string]LogicModule
	models        map[ModelRef]LogicModuleModel
	relationships []Relationship

	// Join records are indexed from both sides, keyed by joinRecordKey:
	// joinRecords by the stored origin_pk (forward traversal),
	// reverseRecords by the related pk (reverse traversal).
	joinRecords    map[string][]JoinRecord
	reverseRecords map[string][]JoinRecord
}

// NewMemoryRegistry builds a MemoryRegistry from the given seed data.
func NewMemoryRegistry(modules []LogicModule, models []LogicModuleModel, relationships []Relationship, records []JoinRecord) *MemoryRegistry {
	r := &MemoryRegistry{
		modules:        make(map[string]LogicModule, len(modules)),
		models:         make(map[ModelRef]LogicModuleModel, len(models)),
		relationships:  append([]Relationship(nil), relationships...),
		joinRecords:    make(map[string][]JoinRecord),
		reverseRecords: make(map[string][]JoinRecord),
	}
	for _, m := range modules {
		r.modules[m.EndpointName] = m
	}
	for _, m := range models {
		r.models[m.Ref()] = m
	}
	for _, jr := range records {
		k := joinRecordKey(jr.OriginPK, jr.Relationship.ID)
		r.joinRecords[k] = append(r.joinRecords[k], jr)

		relatedPK, err := jr.RelatedPK()
		if err != nil {
			continue // malformed seed record, unreachable from either side
		}
		rk := joinRecordKey(relatedPK, jr.Relationship.ID)
		r.reverseRecords[rk] = append(r.reverseRecords[rk], jr)
	}
	return r
}

func joinRecordKey(originPK string, relationshipID int64) string {
	return fmt.Sprintf("%d:%s", relationshipID, originPK)
}

func (r *MemoryRegistry) GetLogicModule(_ context.Context, endpointName string) (*LogicModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[endpointName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, endpointName)
	}
	return &m, nil
}

func (r *MemoryRegistry) GetModel(_ context.Context, endpointName, endpointPath string) (*LogicModuleModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[ModelRef{ServiceEndpointName: endpointName, ModelEndpoint: endpointPath}]
	if !ok {
		return nil, fmt.Errorf("%w: %s%s", ErrModelNotFound, endpointName, endpointPath)
	}
	return &m, nil
}

func (r *MemoryRegistry) GetRelationships(_ context.Context, model *LogicModuleModel) ([]RelationshipEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref := model.Ref()
	var edges []RelationshipEdge
	for _, rel := range r.relationships {
		switch ref {
		case rel.OriginModel:
			edges = append(edges, RelationshipEdge{Relationship: rel, IsForward: true})
		case rel.RelatedModel:
			edges = append(edges, RelationshipEdge{Relationship: rel, IsForward: false})
		}
	}
	return edges, nil
}

func (r *MemoryRegistry) GetJoinRecords(_ context.Context, originPK string, rel Relationship, isForward bool) ([]JoinRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if isForward {
		return append([]JoinRecord(nil), r.joinRecords[joinRecordKey(originPK, rel.ID)]...), nil
	}

	stored := r.reverseRecords[joinRecordKey(originPK, rel.ID)]
	records := make([]JoinRecord, 0, len(stored))
	for _, jr := range stored {
		rev, err := reverseRecord(jr, originPK)
		if err != nil {
			return nil, err
		}
		records = append(records, rev)
	}
	return records, nil
}
