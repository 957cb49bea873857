package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

// JobStore persists enrichment jobs
type JobStore interface {
	Create(ctx context.Context, job models.EnrichmentJob) error
	GetByID(ctx context.Context, userID, jobID string) (*models.EnrichmentJob, error)
}

// JobProgress is the read-only view returned to pollers
type JobProgress struct {
	JobID          string           `json:"job_id"`
	Status         models.JobStatus `json:"status"`
	TotalContacts  int              `json:"total_contacts"`
	ProcessedCount int              `json:"processed_count"`
	FailedCount    int              `json:"failed_count"`
	Progress       int              `json:"progress"`
}

type JobTracker struct {
	jobs JobStore
	now  func() time.Time
}

func NewJobTracker(jobs JobStore) *JobTracker {
	return &JobTracker{jobs: jobs, now: time.Now}
}

// NewJob builds an unsaved job for n contacts. A job with no contacts is born COMPLETED.
func (t *JobTracker) NewJob(userID string, n int) (*models.EnrichmentJob, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if n < 0 {
		return nil, apperr.Validation("contact count cannot be negative, got %d", n)
	}

	now := t.now().UTC()
	job := models.EnrichmentJob{
		ID:            uuid.New().String(),
		UserID:        userID,
		TotalContacts: n,
		Status:        models.JobStatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if n == 0 {
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
	}
	return &job, nil
}

// StartJob creates and stores a job for n contacts
func (t *JobTracker) StartJob(ctx context.Context, userID string, n int) (*models.EnrichmentJob, error) {
	job, err := t.NewJob(userID, n)
	if err != nil {
		return nil, err
	}

	if err := t.jobs.Create(ctx, *job); err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	log.Printf("Started enrichment job %s for user %s (%d contacts, status %s)", job.ID, userID, n, job.Status)
	return job, nil
}

// Poll reports the job's current progress without changing it
func (t *JobTracker) Poll(ctx context.Context, userID, jobID string) (*JobProgress, error) {
	if jobID == "" {
		return nil, apperr.Validation("job_id is required")
	}

	job, err := t.jobs.GetByID(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	return &JobProgress{
		JobID:          job.ID,
		Status:         job.Status,
		TotalContacts:  job.TotalContacts,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
		Progress:       job.Progress(),
	}, nil
}
