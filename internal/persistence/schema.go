package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are unix nanoseconds, 0 meaning unset.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS module_outcomes (
		run_id TEXT NOT NULL,
		module TEXT NOT NULL,
		position INTEGER NOT NULL,
		phase TEXT NOT NULL,
		critical INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		source TEXT NOT NULL,
		used_fallback TEXT NOT NULL DEFAULT '',
		attempts_before_success INTEGER NOT NULL DEFAULT 0,
		fallback_failures TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, module),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS attempts (
		run_id TEXT NOT NULL,
		module TEXT NOT NULL,
		number INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, module, number),
		FOREIGN KEY (run_id, module) REFERENCES module_outcomes(run_id, module) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
