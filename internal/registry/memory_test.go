package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

var testRel = Relationship{
	ID:           1,
	Key:          "items",
	OriginModel:  ModelRef{ServiceEndpointName: "orders", ModelEndpoint: "/orders/"},
	RelatedModel: ModelRef{ServiceEndpointName: "products", ModelEndpoint: "/products/"},
}

func int64Ptr(v int64) *int64 { return &v }

func TestMemoryRegistry_GetLogicModule_NotFound(t *testing.T) {
	reg := NewMemoryRegistry(nil, nil, nil, nil)

	_, err := reg.GetLogicModule(context.Background(), "ghost")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestMemoryRegistry_GetRelationships_Direction(t *testing.T) {
	reg := NewMemoryRegistry(nil, nil, []Relationship{testRel}, nil)

	orders := &LogicModuleModel{LogicModuleEndpointName: "orders", Endpoint: "/orders/"}
	edges, err := reg.GetRelationships(context.Background(), orders)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if len(edges) != 1 || !edges[0].IsForward {
		t.Fatalf("expected one forward edge for the origin model, got %+v", edges)
	}

	products := &LogicModuleModel{LogicModuleEndpointName: "products", Endpoint: "/products/"}
	edges, err = reg.GetRelationships(context.Background(), products)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if len(edges) != 1 || edges[0].IsForward {
		t.Fatalf("expected one reverse edge for the related model, got %+v", edges)
	}
}

func TestMemoryRegistry_GetJoinRecords_Forward(t *testing.T) {
	reg := NewMemoryRegistry(nil, nil, []Relationship{testRel}, []JoinRecord{
		{OriginPK: "7", Relationship: testRel, RelatedRecordID: int64Ptr(10)},
		{OriginPK: "7", Relationship: testRel, RelatedRecordID: int64Ptr(11)},
	})

	records, err := reg.GetJoinRecords(context.Background(), "7", testRel, true)
	if err != nil {
		t.Fatalf("GetJoinRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	pk, err := records[0].RelatedPK()
	if err != nil || pk != "10" {
		t.Fatalf("record 0: pk=%q err=%v", pk, err)
	}
}

func TestMemoryRegistry_GetJoinRecords_ReverseNormalizesSides(t *testing.T) {
	reg := NewMemoryRegistry(nil, nil, []Relationship{testRel}, []JoinRecord{
		{OriginPK: "7", Relationship: testRel, RelatedRecordID: int64Ptr(10)},
		{OriginPK: "8", Relationship: testRel, RelatedRecordID: int64Ptr(10)},
		{OriginPK: "9", Relationship: testRel, RelatedRecordID: int64Ptr(11)},
	})

	// Traversing from product 10's side: both orders referencing it come
	// back, with the stored origin_pk surfaced as the related key.
	records, err := reg.GetJoinRecords(context.Background(), "10", testRel, false)
	if err != nil {
		t.Fatalf("GetJoinRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 reverse records, got %d", len(records))
	}

	var pks []string
	for _, jr := range records {
		if jr.OriginPK != "10" {
			t.Fatalf("reverse record should be anchored at the queried pk, got %q", jr.OriginPK)
		}
		pk, err := jr.RelatedPK()
		if err != nil {
			t.Fatalf("RelatedPK: %v", err)
		}
		pks = append(pks, pk)
	}
	if pks[0] != "7" || pks[1] != "8" {
		t.Fatalf("expected related pks [7 8], got %v", pks)
	}
}

func TestMemoryRegistry_GetJoinRecords_ReverseUUIDOrigin(t *testing.T) {
	u := uuid.New()
	reg := NewMemoryRegistry(nil, nil, []Relationship{testRel}, []JoinRecord{
		{OriginPK: u.String(), Relationship: testRel, RelatedRecordID: int64Ptr(10)},
	})

	records, err := reg.GetJoinRecords(context.Background(), "10", testRel, false)
	if err != nil {
		t.Fatalf("GetJoinRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].RelatedRecordUUID == nil || *records[0].RelatedRecordUUID != u {
		t.Fatalf("expected UUID origin surfaced as related UUID, got %+v", records[0])
	}
}
