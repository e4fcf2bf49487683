package expstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the experiments schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
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

		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			route_id TEXT NOT NULL,
			route_name TEXT,
			route_file TEXT NOT NULL,
			search_method TEXT NOT NULL,
			num_iterations INTEGER NOT NULL,
			timeout_seconds INTEGER NOT NULL,
			headless INTEGER NOT NULL DEFAULT 1,
			random_seed INTEGER NOT NULL DEFAULT 42,
			reward_function TEXT NOT NULL,
			agent TEXT NOT NULL,
			pso_pop_size INTEGER NOT NULL DEFAULT 0,
			pso_w REAL NOT NULL DEFAULT 0,
			pso_c1 REAL NOT NULL DEFAULT 0,
			pso_c2 REAL NOT NULL DEFAULT 0,
			ga_pop_size INTEGER NOT NULL DEFAULT 0,
			ga_prob_mut REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			current_iteration INTEGER NOT NULL DEFAULT 0,
			total_iterations INTEGER NOT NULL DEFAULT 0,
			scenarios_executed INTEGER NOT NULL DEFAULT 0,
			scenarios_this_iteration INTEGER NOT NULL DEFAULT 0,
			total_scenarios INTEGER NOT NULL DEFAULT 0,
			best_reward REAL,
			collision_found INTEGER NOT NULL DEFAULT 0,
			output_directory TEXT NOT NULL,
			error_message TEXT,
			notes TEXT,
			pid INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_experiments_created_at ON experiments(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
