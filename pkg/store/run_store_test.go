package store

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, started time.Time, status Status) *Run {
	return &Run{
		ID:             id,
		Period:         "2024Q1",
		RulesetVersion: "2.1.0",
		Status:         status,
		Rows:           42,
		Violations:     3,
		Blocking:       1,
		ManifestDigest: "abc",
		StartedAt:      started,
		FinishedAt:     started.Add(2 * time.Second),
	}
}

func TestSQLiteRunStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "regpack.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	t0 := time.Date(2024, 4, 2, 9, 0, 0, 123, time.UTC)
	require.NoError(t, s.Record(ctx, sampleRun("run-a", t0, StatusBlocked)))
	require.NoError(t, s.Record(ctx, sampleRun("run-b", t0.Add(time.Hour), StatusCompleted)))

	got, err := s.Get(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got.Status)
	assert.Equal(t, 42, got.Rows)
	assert.Equal(t, "abc", got.ManifestDigest)
	assert.True(t, got.StartedAt.Equal(t0), "started_at %s", got.StartedAt)

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)

	runs, err = s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// Duplicate run ids are rejected.
	assert.Error(t, s.Record(ctx, sampleRun("run-a", t0, StatusFailed)))
}

func TestSQLiteRunStore_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "regpack.db")
	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Record(ctx, sampleRun("run-a", time.Now(), StatusCompleted)))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	_, err = s2.Get(ctx, "run-a")
	require.NoError(t, err)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestPostgresRunStore_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresRunStore(db)
	started := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	r := sampleRun("run-a", started, StatusCompleted)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs (" + runColumns + ") VALUES ($1")).
		WithArgs("run-a", "2024Q1", "2.1.0", "COMPLETED", 42, 3, 1, "abc", "", "", started, started.Add(2*time.Second)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Record(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunStore_GetAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresRunStore(db)
	ctx := context.Background()

	cols := []string{"run_id", "period", "ruleset_version", "status", "rows_total", "violations", "blocking",
		"manifest_digest", "published_index", "error", "started_at", "finished_at"}
	started := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + runColumns + " FROM runs WHERE run_id = $1")).
		WithArgs("run-a").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-a", "2024Q1", "2.1.0", "BLOCKED", 10, 2, 1, "d", "", "", started, started))

	got, err := s.Get(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got.Status)
	assert.True(t, got.StartedAt.Equal(started))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + runColumns + " FROM runs WHERE run_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + runColumns + " FROM runs ORDER BY started_at DESC")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-b", "2024Q1", "2.1.0", "COMPLETED", 10, 0, 0, "d", "sha256:x", "", started, started).
			AddRow("run-a", "2024Q1", "2.1.0", "BLOCKED", 10, 2, 1, "d", "", "", started, started))

	runs, err := s.List(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "sha256:x", runs[0].PublishedIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS runs")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresRunStore(db).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
