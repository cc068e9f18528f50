package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/framelens/personcrop/internal/models"
)

// PostgresStore implements Store on PostgreSQL. Acquisition is a single
// conditional UPDATE, which is what makes processing effectively-once
// under at-least-once task delivery.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool, and ensures the
// schema exists.
func NewPostgresStore(postgresURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crop_jobs (
		job_id     VARCHAR(64) PRIMARY KEY,
		input_uri  TEXT NOT NULL,
		output_uri TEXT NOT NULL DEFAULT '',
		status     VARCHAR(20) NOT NULL,
		error      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_crop_jobs_status ON crop_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_crop_jobs_created_at ON crop_jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_crop_jobs_updated_at ON crop_jobs(updated_at)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, id, inputURI string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO crop_jobs (job_id, input_uri, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		id, inputURI, models.StatusQueued,
	)
	job := &models.Job{ID: id, InputURI: inputURI, Status: models.StatusQueued}
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, input_uri, output_uri, status, error, created_at, updated_at
		FROM crop_jobs WHERE job_id = $1`, id,
	)
	job := &models.Job{}
	err := row.Scan(&job.ID, &job.InputURI, &job.OutputURI, &job.Status, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// TryAcquire is the compare-and-set at the heart of the lifecycle:
// the UPDATE only matches while the job is still queued, so exactly one
// concurrent caller sees a row change.
func (s *PostgresStore) TryAcquire(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crop_jobs
		SET status = $2, updated_at = now()
		WHERE job_id = $1 AND status = $3`,
		id, models.StatusProcessing, models.StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read acquire result: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Lost the race, duplicate delivery, or terminal job. Distinguish a
	// missing job so callers can surface it.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, id, outputURI string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crop_jobs
		SET status = $2, output_uri = $3, updated_at = now()
		WHERE job_id = $1 AND status = $4`,
		id, models.StatusDone, outputURI, models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crop_jobs
		SET status = $2, error = $3, updated_at = now()
		WHERE job_id = $1 AND status = $4`,
		id, models.StatusFailed, errMsg, models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE crop_jobs
		SET status = $1, error = $2, updated_at = now()
		WHERE status = $3 AND updated_at < $4`,
		models.StatusFailed,
		fmt.Sprintf("stalled: no update in %s", olderThan),
		models.StatusProcessing,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM crop_jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
