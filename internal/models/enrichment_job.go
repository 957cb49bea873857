package models

import (
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED" // pipeline-level abort, not per-contact failures
)

// EnrichmentJob tracks research and draft generation for one ingestion batch
type EnrichmentJob struct {
	ID             string
	UserID         string
	TotalContacts  int
	ProcessedCount int
	FailedCount    int
	Status         JobStatus
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Terminal reports whether the job will no longer change
func (j EnrichmentJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Remaining is the number of contacts not yet concluded
func (j EnrichmentJob) Remaining() int {
	return j.TotalContacts - j.ProcessedCount - j.FailedCount
}

// Validate checks the counter invariants
func (j EnrichmentJob) Validate() error {
	if j.TotalContacts < 0 || j.ProcessedCount < 0 || j.FailedCount < 0 {
		return apperr.Validation("job counts cannot be negative")
	}
	if j.ProcessedCount+j.FailedCount > j.TotalContacts {
		return apperr.Validation("job %s concluded %d of %d contacts", j.ID, j.ProcessedCount+j.FailedCount, j.TotalContacts)
	}
	switch j.Status {
	case JobStatusRunning, JobStatusFailed:
	case JobStatusCompleted:
		if j.Remaining() != 0 {
			return apperr.Validation("job %s completed with %d contacts outstanding", j.ID, j.Remaining())
		}
	default:
		return apperr.Validation("unknown job status %q", j.Status)
	}
	return nil
}

// Progress returns processed/total as a percentage clamped to [0,100].
// A job with no contacts is fully done.
func Progress(processed, total int) int {
	if total <= 0 {
		return 100
	}
	pct := processed * 100 / total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Progress returns the job's progress percentage
func (j EnrichmentJob) Progress() int {
	return Progress(j.ProcessedCount, j.TotalContacts)
}
