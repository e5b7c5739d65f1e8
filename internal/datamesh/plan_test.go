package datamesh

import (
	"context"
	"testing"

	"github.com/nulpointcorp/gateway-mesh/internal/registry"
)

var itemsRel = registry.Relationship{
	ID:           1,
	Key:          "items",
	OriginModel:  registry.ModelRef{ServiceEndpointName: "orders", ModelEndpoint: "/orders/"},
	RelatedModel: registry.ModelRef{ServiceEndpointName: "products", ModelEndpoint: "/products/"},
}

var ordersModel = &registry.LogicModuleModel{
	LogicModuleEndpointName: "orders",
	Endpoint:                "/orders/",
	LookupFieldName:         "id",
}

func idPtr(v int64) *int64 { return &v }

func TestPlan_DetailView_EmitsPlanItems(t *testing.T) {
	id1, id2 := idPtr(10), idPtr(11)
	reg := registry.NewMemoryRegistry(nil, nil, []registry.Relationship{itemsRel}, []registry.JoinRecord{
		{OriginPK: "7", Relationship: itemsRel, RelatedRecordID: id1},
		{OriginPK: "7", Relationship: itemsRel, RelatedRecordID: id2},
	})

	payload := From(map[string]any{"id": float64(7)})
	items, err := Plan(context.Background(), payload, ordersModel, reg)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 plan items, got %d", len(items))
	}
	embed, ok := payload.Object["items"].([]any)
	if !ok || len(embed) != 2 {
		t.Fatalf("expected relationship key set to slice of 2, got %v", payload.Object["items"])
	}
}

func TestPlan_ListView_ResultsEnvelope(t *testing.T) {
	reg := registry.NewMemoryRegistry(nil, nil, []registry.Relationship{itemsRel}, nil)

	payload := From(map[string]any{
		"results": []any{
			map[string]any{"id": float64(1)},
			map[string]any{"id": float64(2)},
		},
	})

	items, err := Plan(context.Background(), payload, ordersModel, reg)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no plan items (no join records), got %d", len(items))
	}

	records := payload.Object["results"].([]any)
	for _, r := range records {
		rec := r.(map[string]any)
		if _, ok := rec["items"]; !ok {
			t.Fatalf("expected relationship key always inserted, record=%v", rec)
		}
	}
}

func TestPlan_MissingLookupField_FailsInDetailView(t *testing.T) {
	reg := registry.NewMemoryRegistry(nil, nil, []registry.Relationship{itemsRel}, nil)
	payload := From(map[string]any{"name": "no id here"})

	_, err := Plan(context.Background(), payload, ordersModel, reg)
	if err == nil {
		t.Fatal("expected DataMeshConfigurationError")
	}
}

func TestPlan_MissingLookupField_FailsInListViewToo(t *testing.T) {
	// List view fails exactly like detail view on a missing lookup
	// field; the offending record is not silently skipped.
	reg := registry.NewMemoryRegistry(nil, nil, []registry.Relationship{itemsRel}, nil)
	payload := From([]any{
		map[string]any{"id": float64(1)},
		map[string]any{"name": "missing id"},
	})

	_, err := Plan(context.Background(), payload, ordersModel, reg)
	if err == nil {
		t.Fatal("expected DataMeshConfigurationError for list view too")
	}
}

func TestPlan_ReverseEdge_TargetsOriginModel(t *testing.T) {
	productsModel := &registry.LogicModuleModel{
		LogicModuleEndpointName: "products",
		Endpoint:                "/products/",
		LookupFieldName:         "id",
	}
	reg := registry.NewMemoryRegistry(nil, nil, []registry.Relationship{itemsRel}, []registry.JoinRecord{
		{OriginPK: "7", Relationship: itemsRel, RelatedRecordID: idPtr(10)},
	})

	// Primary record is product 10 — the related side of the edge, so the
	// traversal is reverse and the plan must target the orders service.
	payload := From(map[string]any{"id": float64(10)})
	items, err := Plan(context.Background(), payload, productsModel, reg)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 plan item, got %d", len(items))
	}
	if items[0].Service != "orders" || items[0].ModelPath != "/orders/" {
		t.Fatalf("expected reverse traversal to target orders, got %+v", items[0])
	}
	if items[0].PK != "7" {
		t.Fatalf("expected the stored origin_pk as the related pk, got %q", items[0].PK)
	}
}

func TestPlan_NonJoinablePayload_ReturnsNoItems(t *testing.T) {
	reg := registry.NewMemoryRegistry(nil, nil, nil, nil)
	items, err := Plan(context.Background(), From("just a string"), ordersModel, reg)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil items for non-joinable payload, got %v", items)
	}
}

func TestPlan_UnknownRelatedService_KeyPresentAndEmpty(t *testing.T) {
	reg := registry.NewMemoryRegistry(nil, nil, []registry.Relationship{itemsRel}, nil)
	payload := From(map[string]any{"id": float64(7)})

	items, err := Plan(context.Background(), payload, ordersModel, reg)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no plan items, got %d", len(items))
	}
	embed, ok := payload.Object["items"].([]any)
	if !ok || len(embed) != 0 {
		t.Fatalf("expected empty slice for relationship with no join records, got %v", payload.Object["items"])
	}
}
