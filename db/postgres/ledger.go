// Package postgres records batch runs so multi-day campaigns can be audited
// and resumed.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"steel-siting/pkg/api"
)

// RunStatus is the lifecycle state of a ledger entry.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusReused    RunStatus = "reused"
	StatusFailed    RunStatus = "failed"
)

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID         uuid.UUID
	Year       int
	Region     string
	Percentile float64
	Status     RunStatus
	Points     int
	Solved     int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Key returns the run key of the record.
func (r *RunRecord) Key() api.RunKey {
	return api.RunKey{Year: r.Year, Region: r.Region, Percentile: r.Percentile}
}

// Ledger stores run records in Postgres.
type Ledger struct {
	db *sql.DB
}

// Open connects to Postgres with a lib/pq DSN.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS steelsite_runs (
	id UUID PRIMARY KEY,
	year INTEGER NOT NULL,
	region TEXT NOT NULL,
	percentile DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	solved INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS steelsite_runs_key ON steelsite_runs (year, region, percentile, started_at DESC);
`

// EnsureSchema creates the ledger table.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Start records a running entry for key and returns its id.
func (l *Ledger) Start(ctx context.Context, key api.RunKey) (uuid.UUID, error) {
	id := uuid.New()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO steelsite_runs (id, year, region, percentile, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, key.Year, key.Region, key.Percentile, string(StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record start of %s: %w", key, err)
	}
	return id, nil
}

// Finish closes an entry. A non-nil runErr marks it failed.
func (l *Ledger) Finish(ctx context.Context, id uuid.UUID, status RunStatus, points, solved int, runErr error) error {
	msg := ""
	if runErr != nil {
		status = StatusFailed
		msg = runErr.Error()
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE steelsite_runs
		SET status = $2, points = $3, solved = $4, error = $5, finished_at = $6
		WHERE id = $1`,
		id, string(status), points, solved, msg, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record end of run %s: %w", id, err)
	}
	return nil
}

// Latest returns the most recent entry for key, or nil.
func (l *Ledger) Latest(ctx context.Context, key api.RunKey) (*RunRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, year, region, percentile, status, points, solved, error, started_at, finished_at
		FROM steelsite_runs
		WHERE year = $1 AND region = $2 AND percentile = $3
		ORDER BY started_at DESC
		LIMIT 1`,
		key.Year, key.Region, key.Percentile,
	)

	var rec RunRecord
	var status string
	var finished sql.NullTime
	err := row.Scan(&rec.ID, &rec.Year, &rec.Region, &rec.Percentile, &status,
		&rec.Points, &rec.Solved, &rec.Error, &rec.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for %s: %w", key, err)
	}
	rec.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}
