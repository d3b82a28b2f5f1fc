// Package store persists terminal GPU jobs to PostgreSQL. The scheduler
// remains authoritative for live state; the store is an append-only audit
// log that survives gateway restarts. A nil *Store disables persistence.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/openclaw/openclaw/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the SQL connection pool.
type Store struct {
	db *stdsql.DB
}

// DB returns the underlying connection for health checks and tests.
func (s *Store) DB() *stdsql.DB {
	return s.db
}

// New opens a connection pool against dsn, pings it, and applies pending
// migrations. Migration files are embedded so production deployments need no
// external files.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection (tests). Migrations are applied.
func NewFromDB(db *stdsql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *stdsql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SaveTerminal upserts a terminal job snapshot. Idempotent per job id so a
// duplicate notification never produces a second row.
func (s *Store) SaveTerminal(ctx context.Context, job *models.GpuJob) error {
	if !job.State.Terminal() {
		return fmt.Errorf("job %s is not terminal (%s)", job.JobID, job.State)
	}
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.JobID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gpu_jobs (job_id, state, created_at_ms, updated_at_ms, attempts, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE
		SET state = EXCLUDED.state,
		    updated_at_ms = EXCLUDED.updated_at_ms,
		    attempts = EXCLUDED.attempts,
		    doc = EXCLUDED.doc`,
		job.JobID, string(job.State), job.CreatedAtMs, job.UpdatedAtMs, len(job.Attempts), doc)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.JobID, err)
	}
	return nil
}

// ListTerminal returns the most recent terminal jobs, newest first.
func (s *Store) ListTerminal(ctx context.Context, limit int) ([]*models.GpuJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM gpu_jobs ORDER BY updated_at_ms DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query terminal jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.GpuJob
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan terminal job: %w", err)
		}
		var job models.GpuJob
		if err := json.Unmarshal(doc, &job); err != nil {
			return nil, fmt.Errorf("decode terminal job: %w", err)
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

// Health verifies database reachability.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
