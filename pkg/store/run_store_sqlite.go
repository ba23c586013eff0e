package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRunStore is the default single-file ledger.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore creates the runs table if missing.
func NewSQLiteRunStore(ctx context.Context, db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		ruleset_version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		rows_total INTEGER NOT NULL DEFAULT 0,
		violations INTEGER NOT NULL DEFAULT 0,
		blocking INTEGER NOT NULL DEFAULT 0,
		manifest_digest TEXT NOT NULL DEFAULT '',
		published_index TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	)`
	for _, q := range []string{query, `CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at)`} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteRunStore) Record(ctx context.Context, r *Run) error {
	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Period, r.RulesetVersion, string(r.Status), r.Rows, r.Violations, r.Blocking,
		r.ManifestDigest, r.PublishedIndex, r.Error,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

func (s *SQLiteRunStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row, parseSQLiteTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

func (s *SQLiteRunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return collectRuns(rows, parseSQLiteTime)
}

func (s *SQLiteRunStore) Close() error { return s.db.Close() }

func parseSQLiteTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("store: unexpected time value %T", v)
}
