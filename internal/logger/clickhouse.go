package logger

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink inserts each flushed batch of JoinTrace entries into a
// join_traces table for offline analysis (fan-out size distributions,
// partial-failure rate per service, p99 latency per model).
type ClickHouseSink struct {
	conn clickhouse.Conn
}

// NewClickHouseSink opens a connection pool against dsn (a
// clickhouse://host:port?database=... URL).
func NewClickHouseSink(dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("logger: parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("logger: open clickhouse: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

// EnsureSchema creates the join_traces table if it does not already exist.
// Called once at startup; ClickHouse migrations are not goose-managed like
// the Postgres registry schema, since this sink owns a single table.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS join_traces (
			id             UUID,
			service        String,
			model          String,
			plan_size      Int32,
			fan_out_count  Int32,
			partial_fails  Int32,
			resp_cache_hit UInt8,
			latency_ms     UInt32,
			status         UInt16,
			created_at     DateTime
		) ENGINE = MergeTree()
		ORDER BY (service, created_at)
	`)
}

// Write batch-inserts entries into join_traces.
func (s *ClickHouseSink) Write(ctx context.Context, batch []JoinTrace) error {
	tx, err := s.conn.PrepareBatch(ctx, "INSERT INTO join_traces "+
		"(id, service, model, plan_size, fan_out_count, partial_fails, resp_cache_hit, latency_ms, status, created_at)")
	if err != nil {
		return fmt.Errorf("logger: prepare clickhouse batch: %w", err)
	}

	for _, e := range batch {
		if err := tx.Append(
			e.ID, e.Service, e.Model, int32(e.PlanSize), int32(e.FanOutCount),
			int32(e.PartialFails), e.RespCacheHit, e.LatencyMs, e.Status, normalizeTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("logger: append clickhouse row: %w", err)
		}
	}

	return tx.Send()
}

// Close releases the underlying connection pool.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
