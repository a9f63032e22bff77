package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// opTimeout bounds every store operation.
const opTimeout = 5 * time.Second

// SaveRun stores a run with its module outcomes and attempts, replacing
// any previous copy of the same run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, status, progress, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline = excluded.pipeline,
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, run.ID, run.Pipeline, run.Status, run.Progress, run.Error, toNanos(run.StartedAt), toNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	// Module rows are rewritten wholesale; attempts go with them via cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM module_outcomes WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear module outcomes: %w", err)
	}

	for i, m := range run.Modules {
		failures := ""
		if len(m.FallbackFailures) > 0 {
			data, err := json.Marshal(m.FallbackFailures)
			if err != nil {
				return fmt.Errorf("failed to encode fallback failures for %s: %w", m.Module, err)
			}
			failures = string(data)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO module_outcomes (run_id, module, position, phase, critical, state, source,
				used_fallback, attempts_before_success, fallback_failures, result, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, m.Module, i, m.Phase, m.Critical, m.State, m.Source,
			m.UsedFallback, m.AttemptsBeforeSuccess, failures, string(m.Result), m.Error,
			toNanos(m.StartedAt), toNanos(m.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to save module %s: %w", m.Module, err)
		}

		for _, a := range m.Attempts {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO attempts (run_id, module, number, outcome, started_at, duration_ns, error)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, run.ID, m.Module, a.Number, a.Outcome, toNanos(a.StartedAt), int64(a.Duration), a.Error)
			if err != nil {
				return fmt.Errorf("failed to save attempt %d of %s: %w", a.Number, m.Module, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun retrieves a run with its modules and attempts.
// Returns a wrapped ErrRunNotFound if the run does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	run, err := scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, status, progress, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID))
	if err == sql.ErrNoRows {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run: %w", err)
	}

	modules, err := s.loadModules(ctx, runID)
	if err != nil {
		return RunRecord{}, err
	}
	if err := s.loadAttempts(ctx, runID, modules); err != nil {
		return RunRecord{}, err
	}
	run.Modules = modules
	return run, nil
}

// ListRuns returns run headers without module details, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, status, progress, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run and everything recorded for it.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *SQLiteStore) loadModules(ctx context.Context, runID string) ([]ModuleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, phase, critical, state, source, used_fallback, attempts_before_success,
			fallback_failures, result, error, started_at, finished_at
		FROM module_outcomes
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query module outcomes: %w", err)
	}
	defer rows.Close()

	var modules []ModuleRecord
	for rows.Next() {
		var (
			m                 ModuleRecord
			failures, result  string
			started, finished int64
		)
		if err := rows.Scan(&m.Module, &m.Phase, &m.Critical, &m.State, &m.Source, &m.UsedFallback,
			&m.AttemptsBeforeSuccess, &failures, &result, &m.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan module outcome: %w", err)
		}
		if failures != "" {
			if err := json.Unmarshal([]byte(failures), &m.FallbackFailures); err != nil {
				return nil, fmt.Errorf("failed to decode fallback failures for %s: %w", m.Module, err)
			}
		}
		if result != "" {
			m.Result = json.RawMessage(result)
		}
		m.StartedAt = fromNanos(started)
		m.FinishedAt = fromNanos(finished)
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating module outcomes: %w", err)
	}
	return modules, nil
}

func (s *SQLiteStore) loadAttempts(ctx context.Context, runID string, modules []ModuleRecord) error {
	index := make(map[string]int, len(modules))
	for i, m := range modules {
		index[m.Module] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT module, number, outcome, started_at, duration_ns, error
		FROM attempts
		WHERE run_id = ?
		ORDER BY module ASC, number ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			module            string
			a                 AttemptRecord
			started, duration int64
		)
		if err := rows.Scan(&module, &a.Number, &a.Outcome, &started, &duration, &a.Error); err != nil {
			return fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.StartedAt = fromNanos(started)
		a.Duration = time.Duration(duration)
		if i, ok := index[module]; ok {
			modules[i].Attempts = append(modules[i].Attempts, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating attempts: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run               RunRecord
		started, finished int64
	)
	if err := row.Scan(&run.ID, &run.Pipeline, &run.Status, &run.Progress, &run.Error, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	return run, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
