package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRunStore is the shared-server ledger.
type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(db *sql.DB) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// Migrate creates the runs table if missing.
func (s *PostgresRunStore) Migrate(ctx context.Context) error {
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
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store: migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Record(ctx context.Context, r *Run) error {
	query := `INSERT INTO runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Period, r.RulesetVersion, string(r.Status), r.Rows, r.Violations, r.Blocking,
		r.ManifestDigest, r.PublishedIndex, r.Error, r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, id)
	r, err := scanRun(row, parsePostgresTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

func (s *PostgresRunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return collectRuns(rows, parsePostgresTime)
}

func (s *PostgresRunStore) Close() error { return s.db.Close() }

func parsePostgresTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	return parseSQLiteTime(v)
}
