// Package registry provides read-only access to the metadata that drives the
// gateway: registered upstream services (LogicModule), the resource types
// they expose (LogicModuleModel), declared relationships between those
// resource types, and the materialized join records that link one record's
// key to another's.
//
// The registry is a pure query provider. It never mutates data and never
// caches anything itself — long-lived caching, when wanted, is layered on
// top via a Registry-wrapping decorator (see WithCache).
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Errors returned by Registry implementations. Callers should use
// errors.Is to classify failures.
var (
	// ErrServiceNotFound is returned when an endpoint_name has no
	// registered LogicModule.
	ErrServiceNotFound = errors.New("registry: service does not exist")

	// ErrModelNotFound is returned when no LogicModuleModel matches the
	// given (endpoint_name, endpoint_path) pair.
	ErrModelNotFound = errors.New("registry: model not found")

	// ErrConfigMissing is returned when required metadata for a lookup is
	// absent or unusable (e.g. a join record whose origin primary key is
	// neither numeric nor a UUID).
	ErrConfigMissing = errors.New("registry: required metadata missing")
)

// LogicModule is a registered upstream service.
type LogicModule struct {
	// EndpointName is the stable identifier used in inbound gateway URLs.
	EndpointName string

	// SchemaURL is where the service's OpenAPI document can be fetched.
	SchemaURL string

	// BaseURLOverride is an optional base URL stored with the module. It is
	// not consulted when building outbound URLs: those always use the
	// OpenAPI document's own api_url.
	BaseURLOverride string
}

// ModelRef identifies a LogicModuleModel by its composite key.
type ModelRef struct {
	ServiceEndpointName string
	ModelEndpoint       string
}

// LogicModuleModel is one resource type exposed by a LogicModule.
type LogicModuleModel struct {
	LogicModuleEndpointName string

	// Endpoint is the path fragment identifying this model, e.g. "/products/".
	Endpoint string

	// LookupFieldName is the attribute in an upstream payload that holds
	// the record's join key (its primary key, from the gateway's
	// perspective).
	LookupFieldName string
}

// Ref returns the ModelRef identifying this model.
func (m LogicModuleModel) Ref() ModelRef {
	return ModelRef{ServiceEndpointName: m.LogicModuleEndpointName, ModelEndpoint: m.Endpoint}
}

// Relationship is a directed edge between two LogicModuleModels.
type Relationship struct {
	ID int64

	// Key is the name under which related data is embedded in the
	// primary response.
	Key string

	OriginModel  ModelRef
	RelatedModel ModelRef
}

// RelationshipEdge pairs a Relationship with the direction it is being
// traversed in for a particular join. Direction is a fact about the
// traversal, not a property of the Relationship type itself — see
// Relationship.Endpoints.
type RelationshipEdge struct {
	Relationship Relationship
	IsForward    bool
}

// Endpoints returns (originModel, relatedModel) for this edge, accounting
// for direction: a reverse traversal swaps the relationship's declared
// origin and related models.
func (e RelationshipEdge) Endpoints() (origin, related ModelRef) {
	if e.IsForward {
		return e.Relationship.OriginModel, e.Relationship.RelatedModel
	}
	return e.Relationship.RelatedModel, e.Relationship.OriginModel
}

// JoinRecord is a materialized link between a primary record's key and one
// related record's key. Exactly one of RelatedRecordID and
// RelatedRecordUUID is non-nil.
type JoinRecord struct {
	OriginPK     string
	Relationship Relationship

	RelatedRecordID   *int64
	RelatedRecordUUID *uuid.UUID
}

// RelatedPK returns the related record's primary key as a string, whichever
// of the two key fields is populated. It errors if zero or both are set —
// a registry implementation bug, not a user-facing condition.
func (r JoinRecord) RelatedPK() (string, error) {
	switch {
	case r.RelatedRecordID != nil && r.RelatedRecordUUID == nil:
		return fmt.Sprintf("%d", *r.RelatedRecordID), nil
	case r.RelatedRecordUUID != nil && r.RelatedRecordID == nil:
		return r.RelatedRecordUUID.String(), nil
	default:
		return "", fmt.Errorf("registry: join record for origin_pk %q must set exactly one of related_record_id/related_record_uuid", r.OriginPK)
	}
}

// reverseRecord rebuilds jr as seen from the related side of its
// relationship: the queried pk becomes the origin and jr's stored
// origin_pk becomes the related key. Backends use it to normalize reverse
// traversals so callers always read the related pk from the same fields
// regardless of direction.
func reverseRecord(jr JoinRecord, queriedPK string) (JoinRecord, error) {
	out := JoinRecord{OriginPK: queriedPK, Relationship: jr.Relationship}
	if id, err := strconv.ParseInt(jr.OriginPK, 10, 64); err == nil {
		out.RelatedRecordID = &id
		return out, nil
	}
	if u, err := uuid.Parse(jr.OriginPK); err == nil {
		out.RelatedRecordUUID = &u
		return out, nil
	}
	return JoinRecord{}, fmt.Errorf("%w: join record origin_pk %q is neither numeric nor a UUID", ErrConfigMissing, jr.OriginPK)
}

// Registry is the read-only metadata query interface the engine depends on.
// Implementations must be safe for concurrent use.
type Registry interface {
	// GetLogicModule looks up a registered service by its endpoint_name.
	// Returns ErrServiceNotFound if unregistered.
	GetLogicModule(ctx context.Context, endpointName string) (*LogicModule, error)

	// GetModel looks up a resource type by (service, path). Returns
	// ErrModelNotFound if unregistered.
	GetModel(ctx context.Context, endpointName, endpointPath string) (*LogicModuleModel, error)

	// GetRelationships returns every relationship touching model, paired
	// with the direction it should be traversed for that model.
	GetRelationships(ctx context.Context, model *LogicModuleModel) ([]RelationshipEdge, error)

	// GetJoinRecords returns the materialized links from originPK across
	// rel, traversed in the given direction. Direction is normalized:
	// returned records are anchored at originPK and their related-key
	// fields name the record on the far side of the traversal, so a
	// reverse lookup surfaces the stored origin_pk as the related key.
	GetJoinRecords(ctx context.Context, originPK string, rel Relationship, isForward bool) ([]JoinRecord, error)
}
