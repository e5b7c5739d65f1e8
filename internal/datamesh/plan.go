package datamesh

import (
	"context"
	"fmt"

	"github.com/nulpointcorp/gateway-mesh/internal/gwerr"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
)

// PlanItem is one sub-request the join executor must perform: fetch
// (Service, ModelPath, PK) and, on success, write the JSON object result
// into (*Embed)[Index].
//
// Embed points at a slice the planner pre-sized to the number of join
// records for this (record, relationship) pair, so the executor can write
// results positionally regardless of completion order — this is what
// satisfies the "insertion order = planner emission order" guarantee
// without the executor needing to know anything about ordering.
type PlanItem struct {
	Service   string
	ModelPath string
	PK        string

	Embed *[]any
	Index int
}

// Plan expands payload into a set of PlanItems. It performs
// metadata lookups against reg (relationships, join records) but never
// touches the network itself — all I/O is the join executor's job.
//
// Every record containing model.LookupFieldName has every relationship key
// set (to a slice, possibly of length zero) before Plan returns, even if no
// PlanItems are emitted for it. A record missing the lookup field fails
// with a DataMeshConfigurationError, in both detail and list views.
func Plan(ctx context.Context, payload Value, model *registry.LogicModuleModel, reg registry.Registry) ([]PlanItem, error) {
	if !payload.IsJoinable() {
		return nil, nil
	}

	records, err := recordsOf(payload)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	edges, err := reg.GetRelationships(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("datamesh: get relationships: %w", err)
	}

	var items []PlanItem
	for _, record := range records {
		rawPK, ok := record[model.LookupFieldName]
		if !ok {
			return nil, gwerr.New(gwerr.KindDataMeshConfig,
				fmt.Sprintf("record missing configured lookup field %q", model.LookupFieldName), nil)
		}
		originPK := fmt.Sprint(rawPK)

		for _, edge := range edges {
			joinRecords, err := reg.GetJoinRecords(ctx, originPK, edge.Relationship, edge.IsForward)
			if err != nil {
				return nil, fmt.Errorf("datamesh: get join records for %q: %w", originPK, err)
			}

			embed := make([]any, len(joinRecords))
			record[edge.Relationship.Key] = embed

			_, related := edge.Endpoints()
			for i, jr := range joinRecords {
				pk, err := jr.RelatedPK()
				if err != nil {
					// Malformed join record (neither or both keys set) —
					// a registry data-integrity issue. Leave the slot nil
					// rather than failing the whole plan; the assembler
					// prunes nil slots.
					continue
				}
				items = append(items, PlanItem{
					Service:   related.ServiceEndpointName,
					ModelPath: related.ModelEndpoint,
					PK:        pk,
					Embed:     &embed,
					Index:     i,
				})
			}
		}
	}

	return items, nil
}

// recordsOf normalizes the results pagination envelope: an object
// containing a "results" key is iterated as that sequence; otherwise the
// payload itself is the record set (a single object for a detail view, or
// an array for a list view already not wrapped in "results").
func recordsOf(payload Value) ([]map[string]any, error) {
	switch payload.Kind {
	case KindObject:
		if results, ok := payload.Object["results"]; ok {
			arr, ok := results.([]any)
			if !ok {
				return nil, gwerr.New(gwerr.KindDataMeshConfig, `"results" key is not a list`, nil)
			}
			return toRecords(arr), nil
		}
		return []map[string]any{payload.Object}, nil
	case KindArray:
		return toRecords(payload.Array), nil
	default:
		return nil, nil
	}
}

func toRecords(items []any) []map[string]any {
	var out []map[string]any
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
