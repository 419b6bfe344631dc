package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skuflow-io/skuflow/internal/ingest"
)

// JobStore persists ingest job rows in PostgreSQL.
type JobStore struct {
	conn *Connection
}

// compile-time interface check
var _ ingest.Jobs = (*JobStore)(nil)

// NewJobStore creates a JobStore.
func NewJobStore(conn *Connection) (*JobStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JobStore{conn: conn}, nil
}

// Create inserts a new pending job and returns it. The ID is a fresh UUID.
func (s *JobStore) Create(ctx context.Context, fileName, sourceURI string) (*ingest.Job, error) {
	job := &ingest.Job{
		ID:        uuid.NewString(),
		FileName:  fileName,
		SourceURI: sourceURI,
		Status:    ingest.StatusPending,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO upload_jobs (id, file_name, source_uri, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.FileName, job.SourceURI, job.Status.String(), job.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload job: %w", err)
	}

	return job, nil
}

// Find retrieves a job by ID. Returns ingest.ErrJobNotFound when absent.
func (s *JobStore) Find(ctx context.Context, id string) (*ingest.Job, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, file_name, source_uri, status,
		       total_records, processed_records, successful_records, failed_records,
		       error_message, started_at, completed_at
		FROM upload_jobs
		WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ingest.ErrJobNotFound, id)
		}

		return nil, fmt.Errorf("failed to query upload job: %w", err)
	}

	return job, nil
}

// Save writes the full job row. Returns ingest.ErrJobNotFound when the row is gone.
func (s *JobStore) Save(ctx context.Context, job *ingest.Job) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE upload_jobs SET
			status             = $2,
			total_records      = $3,
			processed_records  = $4,
			successful_records = $5,
			failed_records     = $6,
			error_message      = $7,
			completed_at       = $8
		WHERE id = $1`,
		job.ID,
		job.Status.String(),
		job.TotalRecords,
		job.ProcessedRecords,
		job.SuccessfulRecords,
		job.FailedRecords,
		nullableString(job.ErrorMessage),
		nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save upload job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrJobNotFound, job.ID)
	}

	return nil
}

// ClaimPending atomically claims the oldest pending job by flipping it to
// processing. SKIP LOCKED keeps concurrent workers from claiming the same
// row. Returns (nil, nil) when no pending job exists.
func (s *JobStore) ClaimPending(ctx context.Context) (*ingest.Job, error) {
	row := s.conn.QueryRowContext(ctx, `
		UPDATE upload_jobs SET status = 'processing'
		WHERE id = (
			SELECT id FROM upload_jobs
			WHERE status = 'pending'
			ORDER BY started_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, file_name, source_uri, status,
		          total_records, processed_records, successful_records, failed_records,
		          error_message, started_at, completed_at`)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim pending job: %w", err)
	}

	return job, nil
}

// List returns jobs ordered by start time, newest first.
func (s *JobStore) List(ctx context.Context, limit, offset int) ([]*ingest.Job, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, file_name, source_uri, status,
		       total_records, processed_records, successful_records, failed_records,
		       error_message, started_at, completed_at
		FROM upload_jobs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload jobs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var jobs []*ingest.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload job row: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload job rows: %w", err)
	}

	return jobs, nil
}

func scanJob(s scanner) (*ingest.Job, error) {
	var (
		job          ingest.Job
		status       string
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)

	err := s.Scan(
		&job.ID,
		&job.FileName,
		&job.SourceURI,
		&status,
		&job.TotalRecords,
		&job.ProcessedRecords,
		&job.SuccessfulRecords,
		&job.FailedRecords,
		&errorMessage,
		&job.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = ingest.JobStatus(status)
	job.ErrorMessage = errorMessage.String

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
