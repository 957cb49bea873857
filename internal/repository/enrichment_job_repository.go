package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

type EnrichmentJobRepository struct {
	db *sql.DB
}

func NewEnrichmentJobRepository(db *sql.DB) *EnrichmentJobRepository {
	return &EnrichmentJobRepository{db: db}
}

const jobColumns = `
	id, user_id, total_contacts, processed_count, failed_count,
	status, attempts, last_error, created_at, updated_at, completed_at`

// Create inserts a new enrichment job
func (r *EnrichmentJobRepository) Create(ctx context.Context, job models.EnrichmentJob) error {
	query := `
		INSERT INTO enrichment_jobs (
			id, user_id, total_contacts, processed_count, failed_count,
			status, attempts, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.TotalContacts,
		job.ProcessedCount,
		job.FailedCount,
		job.Status,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create enrichment job: %w", err)
	}
	return nil
}

// GetByID retrieves a job owned by userID
func (r *EnrichmentJobRepository) GetByID(ctx context.Context, userID, jobID string) (*models.EnrichmentJob, error) {
	query := `SELECT` + jobColumns + `
		FROM enrichment_jobs
		WHERE id = $1 AND user_id = $2
	`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("enrichment job", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetRunning retrieves running jobs in round-robin order.
// Jobs touched least recently are picked first.
func (r *EnrichmentJobRepository) GetRunning(ctx context.Context, limit int) ([]models.EnrichmentJob, error) {
	query := `SELECT` + jobColumns + `
		FROM enrichment_jobs
		WHERE status = $1
		ORDER BY updated_at ASC, created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, models.JobStatusRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return jobs, nil
}

// IncrementProcessed counts one successfully drafted contact.
// Returns false if the job is no longer running or already fully counted.
func (r *EnrichmentJobRepository) IncrementProcessed(ctx context.Context, jobID string) (bool, error) {
	return r.increment(ctx, jobID, "processed_count")
}

// IncrementFailed counts one contact whose enrichment failed
func (r *EnrichmentJobRepository) IncrementFailed(ctx context.Context, jobID string) (bool, error) {
	return r.increment(ctx, jobID, "failed_count")
}

func (r *EnrichmentJobRepository) increment(ctx context.Context, jobID, column string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE enrichment_jobs
		SET %[1]s = %[1]s + 1, updated_at = $1
		WHERE id = $2
		  AND status = $3
		  AND processed_count + failed_count < total_contacts
	`, column)

	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), jobID, models.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to increment %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CompleteIfDone marks a running job COMPLETED once every contact concluded
func (r *EnrichmentJobRepository) CompleteIfDone(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE enrichment_jobs
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3
		  AND status = $4
		  AND processed_count + failed_count >= total_contacts
	`

	res, err := r.db.ExecContext(ctx, query, models.JobStatusCompleted, time.Now().UTC(), jobID, models.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// Settle completes a running job whose remaining contacts left the pipeline
// without being researched (archived while NEW). Only contacts still attached
// to the job count as processed, and only once none of them is open and every
// contact of the job is accounted for.
func (r *EnrichmentJobRepository) Settle(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE enrichment_jobs j
		SET processed_count = attached.n,
		    status = $1, completed_at = $2, updated_at = $2
		FROM (
			SELECT COUNT(*) AS n FROM contacts WHERE enrichment_job_id = $3
		) attached
		WHERE j.id = $3
		  AND j.status = $4
		  AND attached.n + j.failed_count = j.total_contacts
		  AND NOT EXISTS (
			SELECT 1 FROM contacts c
			WHERE c.enrichment_job_id = j.id AND c.status IN ($5, $6)
		  )
	`

	res, err := r.db.ExecContext(ctx, query,
		models.JobStatusCompleted, time.Now().UTC(), jobID, models.JobStatusRunning,
		models.ContactStatusNew, models.ContactStatusResearching,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// MarkFailed aborts a running job. Terminal jobs are left untouched.
func (r *EnrichmentJobRepository) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	query := `
		UPDATE enrichment_jobs
		SET status = $1, last_error = $2, completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	_, err := r.db.ExecContext(ctx, query, models.JobStatusFailed, lastError, time.Now().UTC(), jobID, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// IncrementAttempts records a pipeline-level failure and returns the new count
func (r *EnrichmentJobRepository) IncrementAttempts(ctx context.Context, jobID string, lastError string) (int, error) {
	query := `
		UPDATE enrichment_jobs
		SET attempts = attempts + 1, last_error = $1, updated_at = $2
		WHERE id = $3
		RETURNING attempts
	`

	var attempts int
	err := r.db.QueryRowContext(ctx, query, lastError, time.Now().UTC(), jobID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

// ResetAttempts clears the failure streak after a successful batch
func (r *EnrichmentJobRepository) ResetAttempts(ctx context.Context, jobID string) error {
	query := `
		UPDATE enrichment_jobs
		SET attempts = 0, last_error = NULL, updated_at = $1
		WHERE id = $2 AND attempts > 0
	`

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.EnrichmentJob, error) {
	var job models.EnrichmentJob
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.TotalContacts,
		&job.ProcessedCount,
		&job.FailedCount,
		&job.Status,
		&job.Attempts,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
