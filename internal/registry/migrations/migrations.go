// Package migrations embeds the goose schema migrations for the registry's
// Postgres tables (logic_modules, logic_module_models, relationships,
// join_records) and provides a thin Migrator wrapper.
package migrations

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Migrator applies and inspects schema migrations against a pgx pool.
type Migrator struct {
	pool *pgxpool.Pool
}

// NewMigrator builds a Migrator over an existing connection pool.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	return &Migrator{pool: pool}
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Status reports the applied/pending state of each migration.
func (m *Migrator) Status(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	return goose.StatusContext(ctx, db, ".")
}

// RunIfEnabled applies migrations only when autoMigrate is true — callers
// typically gate this on config.RegistryConfig.AutoMigrate.
func RunIfEnabled(ctx context.Context, pool *pgxpool.Pool, autoMigrate bool) error {
	if !autoMigrate {
		return nil
	}
	return NewMigrator(pool).Up(ctx)
}
