package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgxmock's mock pool,
// letting tests substitute a mock without a pool-specific interface.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry is a Registry backed by a pgx connection pool. Each
// method issues exactly one query; there is no local caching — wrap with
// WithCache for a read-through cache across requests.
type PostgresRegistry struct {
	db querier
}

// NewPostgresRegistry builds a PostgresRegistry over an existing pool.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{db: pool}
}

// newPostgresRegistryWithQuerier is used by tests to inject a pgxmock pool.
func newPostgresRegistryWithQuerier(q querier) *PostgresRegistry {
	return &PostgresRegistry{db: q}
}

func (r *PostgresRegistry) GetLogicModule(ctx context.Context, endpointName string) (*LogicModule, error) {
	const q = `
		SELECT endpoint_name, schema_url, COALESCE(base_url_override, '')
		FROM logic_modules
		WHERE endpoint_name = $1`

	var m LogicModule
	err := r.db.QueryRow(ctx, q, endpointName).Scan(&m.EndpointName, &m.SchemaURL, &m.BaseURLOverride)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, endpointName)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get logic module %q: %w", endpointName, err)
	}
	return &m, nil
}

func (r *PostgresRegistry) GetModel(ctx context.Context, endpointName, endpointPath string) (*LogicModuleModel, error) {
	const q = `
		SELECT logic_module_endpoint_name, endpoint, lookup_field_name
		FROM logic_module_models
		WHERE logic_module_endpoint_name = $1 AND endpoint = $2`

	var m LogicModuleModel
	err := r.db.QueryRow(ctx, q, endpointName, endpointPath).
		Scan(&m.LogicModuleEndpointName, &m.Endpoint, &m.LookupFieldName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s%s", ErrModelNotFound, endpointName, endpointPath)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get model %s%s: %w", endpointName, endpointPath, err)
	}
	return &m, nil
}

func (r *PostgresRegistry) GetRelationships(ctx context.Context, model *LogicModuleModel) ([]RelationshipEdge, error) {
	const q = `
		SELECT id, key,
		       origin_service, origin_endpoint,
		       related_service, related_endpoint
		FROM relationships
		WHERE (origin_service = $1 AND origin_endpoint = $2)
		   OR (related_service = $1 AND related_endpoint = $2)`

	ref := model.Ref()
	rows, err := r.db.Query(ctx, q, ref.ServiceEndpointName, ref.ModelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("registry: get relationships for %s%s: %w", ref.ServiceEndpointName, ref.ModelEndpoint, err)
	}
	defer rows.Close()

	var edges []RelationshipEdge
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(
			&rel.ID, &rel.Key,
			&rel.OriginModel.ServiceEndpointName, &rel.OriginModel.ModelEndpoint,
			&rel.RelatedModel.ServiceEndpointName, &rel.RelatedModel.ModelEndpoint,
		); err != nil {
			return nil, fmt.Errorf("registry: scan relationship: %w", err)
		}
		switch ref {
		case rel.OriginModel:
			edges = append(edges, RelationshipEdge{Relationship: rel, IsForward: true})
		case rel.RelatedModel:
			edges = append(edges, RelationshipEdge{Relationship: rel, IsForward: false})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate relationships: %w", err)
	}
	return edges, nil
}

// GetJoinRecords returns join records with the traversal direction
// normalized: a reverse lookup matches the queried pk against the
// related-record columns and surfaces the stored origin_pk as the related
// key, so callers read the other side's pk the same way in both directions.
func (r *PostgresRegistry) GetJoinRecords(ctx context.Context, originPK string, rel Relationship, isForward bool) ([]JoinRecord, error) {
	const forwardQ = `
		SELECT origin_pk, related_record_id, related_record_uuid
		FROM join_records
		WHERE relationship_id = $1 AND origin_pk = $2
		ORDER BY id`
	const reverseQ = `
		SELECT origin_pk, related_record_id, related_record_uuid
		FROM join_records
		WHERE relationship_id = $1
		  AND (related_record_id::text = $2 OR related_record_uuid::text = $2)
		ORDER BY id`

	q := forwardQ
	if !isForward {
		q = reverseQ
	}

	rows, err := r.db.Query(ctx, q, rel.ID, originPK)
	if err != nil {
		return nil, fmt.Errorf("registry: get join records for relationship %d, origin %q: %w", rel.ID, originPK, err)
	}
	defer rows.Close()

	var records []JoinRecord
	for rows.Next() {
		jr := JoinRecord{Relationship: rel}
		if err := rows.Scan(&jr.OriginPK, &jr.RelatedRecordID, &jr.RelatedRecordUUID); err != nil {
			return nil, fmt.Errorf("registry: scan join record: %w", err)
		}
		if !isForward {
			if jr, err = reverseRecord(jr, originPK); err != nil {
				return nil, err
			}
		}
		records = append(records, jr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate join records: %w", err)
	}
	return records, nil
}
