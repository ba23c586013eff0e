// Package store keeps a ledger of pipeline runs in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("store: run not found")

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusBlocked   Status = "BLOCKED"
	StatusFailed    Status = "FAILED"
)

// Run is one ledger row.
type Run struct {
	ID             string    `json:"run_id"`
	Period         string    `json:"period"`
	RulesetVersion string    `json:"ruleset_version"`
	Status         Status    `json:"status"`
	Rows           int       `json:"rows"`
	Violations     int       `json:"violations"`
	Blocking       int       `json:"blocking"`
	ManifestDigest string    `json:"manifest_digest,omitempty"`
	PublishedIndex string    `json:"published_index,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// RunStore persists runs.
type RunStore interface {
	Record(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}

const runColumns = `run_id, period, ruleset_version, status, rows_total, violations, blocking, manifest_digest, published_index, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, parseTime func(any) (time.Time, error)) (*Run, error) {
	var (
		r                 Run
		status            string
		started, finished any
	)
	if err := sc.Scan(&r.ID, &r.Period, &r.RulesetVersion, &status, &r.Rows, &r.Violations, &r.Blocking,
		&r.ManifestDigest, &r.PublishedIndex, &r.Error, &started, &finished); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRuns(rows *sql.Rows, parseTime func(any) (time.Time, error)) ([]*Run, error) {
	defer func() { _ = rows.Close() }()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows, parseTime)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Open connects to the ledger. postgres:// and postgresql:// DSNs select
// Postgres; anything else is a SQLite database path.
func Open(ctx context.Context, dsn string) (RunStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: empty DSN")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		s := NewPostgresRunStore(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s, err := NewSQLiteRunStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
