package tablestore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates the schema in place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			setup TEXT NOT NULL,
			ensemble INTEGER NOT NULL,
			sites_requested INTEGER NOT NULL,
			sites_available INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at);`,

		`CREATE TABLE IF NOT EXISTS batch_sites (
			batch_id TEXT NOT NULL,
			site TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			PRIMARY KEY (batch_id, site),
			FOREIGN KEY(batch_id) REFERENCES batches(batch_id)
		);`,

		`CREATE TABLE IF NOT EXISTS series_columns (
			batch_id TEXT NOT NULL,
			site TEXT NOT NULL,
			resolution TEXT NOT NULL,
			variable TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			PRIMARY KEY (batch_id, site, resolution, variable),
			FOREIGN KEY(batch_id) REFERENCES batches(batch_id)
		);`,

		`CREATE TABLE IF NOT EXISTS series_values (
			batch_id TEXT NOT NULL,
			site TEXT NOT NULL,
			resolution TEXT NOT NULL,
			date TEXT NOT NULL,
			variable TEXT NOT NULL,
			value REAL,
			PRIMARY KEY (batch_id, site, resolution, date, variable),
			FOREIGN KEY(batch_id) REFERENCES batches(batch_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_series_values_site ON series_values(batch_id, site, resolution);`,

		`UPDATE schema_meta SET schema_version = 1 WHERE id = 1;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrate: %w", err)
	}
	return nil
}
