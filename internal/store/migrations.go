package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one additive schema step. Steps are never edited once
// released; new columns or tables get a new version.
type migration struct {
	version    int
	statements []string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				category TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				data TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_products_status ON products(status)`,
			`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
			`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
		},
	},
	{
		version: 3,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS hidden_products (
				id TEXT PRIMARY KEY,
				hidden_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sync_runs (
				id TEXT PRIMARY KEY,
				started_at TEXT NOT NULL,
				finished_at TEXT,
				forced INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				synced_count INTEGER NOT NULL DEFAULT 0,
				failed_pages INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at)`,
		},
	},
}

// migrateSQLite applies every migration newer than the recorded schema
// version, each inside its own transaction.
func migrateSQLite(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		if err := applySQLite(ctx, db, m); err != nil {
			return current, fmt.Errorf("migration %d: %w", m.version, err)
		}
		current = m.version
	}
	return current, nil
}

func applySQLite(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS catalog_products (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		status TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_products_status ON catalog_products(status)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_products_category ON catalog_products(category)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_products_name ON catalog_products(name)`,
	`CREATE TABLE IF NOT EXISTS catalog_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_hidden_products (
		id TEXT PRIMARY KEY,
		hidden_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_sync_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		forced BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		synced_count INTEGER NOT NULL DEFAULT 0,
		failed_pages INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`,
}
