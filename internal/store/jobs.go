package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

// CreateJob inserts a job in queued state
func (s *SQLiteStore) CreateJob(ctx context.Context, id string) (*core.Job, error) {
	job := &core.Job{
		ID:        id,
		Status:    core.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO jobs (id, status, created_at) VALUES (?, ?, ?)",
			job.ID, string(job.Status), job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create job %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StartJob transitions a job to running
func (s *SQLiteStore) StartJob(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, started_at = ? WHERE id = ?",
			string(core.JobRunning), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to start job %s: %w", id, err)
		}
		return nil
	})
}

// CompleteJob transitions a job to completed with its result payload
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result, summary string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, completed_at = ?, result = ?, summary = ? WHERE id = ?",
			string(core.JobCompleted), time.Now().UTC(), result, summary, id)
		if err != nil {
			return fmt.Errorf("failed to complete job %s: %w", id, err)
		}
		return nil
	})
}

// FailJob transitions a job to failed with an error message
func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, completed_at = ?, error = ? WHERE id = ?",
			string(core.JobFailed), time.Now().UTC(), errMsg, id)
		if err != nil {
			return fmt.Errorf("failed to fail job %s: %w", id, err)
		}
		return nil
	})
}

func scanJob(row interface{ Scan(...interface{}) error }) (*core.Job, error) {
	var job core.Job
	var status string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &status, &job.CreatedAt, &startedAt, &completedAt,
		&job.Result, &job.Summary, &job.Error)
	if err != nil {
		return nil, err
	}
	job.Status = core.JobStatus(status)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// GetJob returns one job by id
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, status, created_at, started_at, completed_at, result, summary, error FROM jobs WHERE id = ?",
		id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs up to limit
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]core.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, status, created_at, started_at, completed_at, result, summary, error FROM jobs ORDER BY created_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// FailInterruptedJobs marks every queued or running job as failed.
// Called once at startup; returns the number of jobs swept.
func (s *SQLiteStore) FailInterruptedJobs(ctx context.Context, reason string) (int, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, completed_at = ?, error = ? WHERE status IN (?, ?)",
			string(core.JobFailed), time.Now().UTC(), reason,
			string(core.JobQueued), string(core.JobRunning))
		if err != nil {
			return fmt.Errorf("failed to sweep interrupted jobs: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
