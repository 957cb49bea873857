package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/events"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

const (
	EnrichBatchSize = 3 // Drafting calls are slow (~30-60s each on free models)

	// researchLease bounds how long a claim may sit in RESEARCHING before
	// another worker treats it as abandoned
	researchLease = 30 * time.Minute
)

// ErrDrafterNotConfigured is returned when no AI provider key is set
var ErrDrafterNotConfigured = errors.New("drafter not configured")

// Drafter researches a contact and writes a first message
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (*DraftResult, error)
}

type DraftRequest struct {
	FullName    string
	Role        string
	Company     string
	LinkedInURL string
}

type DraftResult struct {
	NewsSummary string
	PainPoints  string
	SourceURL   string
	Message     string
	StrategyTag models.StrategyTag
	Raw         map[string]interface{}
}

// EnrichmentContactStore is the contact side of the pipeline
type EnrichmentContactStore interface {
	ClaimForResearch(ctx context.Context, jobID string, limit int) ([]models.Contact, error)
	GetByID(ctx context.Context, userID, contactID string) (*models.Contact, error)
	SaveDraft(ctx context.Context, contactID string, research models.Research, draft string, tag models.StrategyTag) (bool, error)
	ReleaseFailed(ctx context.Context, contactID string) error
	Requeue(ctx context.Context, contactID string) error
	ReleaseJob(ctx context.Context, jobID string) (int64, error)
	ResetStuck(ctx context.Context, staleBefore time.Time) (int64, error)
	CountOpen(ctx context.Context, jobID string) (int64, error)
}

// EnrichmentJobStore is the job side of the pipeline
type EnrichmentJobStore interface {
	GetRunning(ctx context.Context, limit int) ([]models.EnrichmentJob, error)
	IncrementProcessed(ctx context.Context, jobID string) (bool, error)
	IncrementFailed(ctx context.Context, jobID string) (bool, error)
	CompleteIfDone(ctx context.Context, jobID string) (bool, error)
	Settle(ctx context.Context, jobID string) (bool, error)
	MarkFailed(ctx context.Context, jobID string, lastError string) error
	IncrementAttempts(ctx context.Context, jobID string, lastError string) (int, error)
	ResetAttempts(ctx context.Context, jobID string) error
}

type EnrichmentProcessor struct {
	contacts   EnrichmentContactStore
	jobs       EnrichmentJobStore
	drafter    Drafter
	publisher  events.Publisher
	batchSize  int
	maxRetries int
	now        func() time.Time
}

func NewEnrichmentProcessor(
	contacts EnrichmentContactStore,
	jobs EnrichmentJobStore,
	drafter Drafter,
	publisher events.Publisher,
	batchSize int,
	maxRetries int,
) *EnrichmentProcessor {
	if batchSize <= 0 {
		batchSize = EnrichBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &EnrichmentProcessor{
		contacts:   contacts,
		jobs:       jobs,
		drafter:    drafter,
		publisher:  publisher,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// RunningJobs returns jobs with outstanding contacts
func (p *EnrichmentProcessor) RunningJobs(ctx context.Context, limit int) ([]models.EnrichmentJob, error) {
	return p.jobs.GetRunning(ctx, limit)
}

// RecoverStuck returns contacts orphaned in RESEARCHING by a previous run to
// NEW. Claims younger than the research lease are still being worked on.
func (p *EnrichmentProcessor) RecoverStuck(ctx context.Context) error {
	n, err := p.contacts.ResetStuck(ctx, p.now().UTC().Add(-researchLease))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Recovered %d contacts stuck in RESEARCHING", n)
	}
	return nil
}

// ProcessJob researches one batch of the job's contacts. Per-contact failures
// are counted on the job; the returned error means the batch itself failed.
func (p *EnrichmentProcessor) ProcessJob(ctx context.Context, job models.EnrichmentJob) error {
	if p.drafter == nil {
		return ErrDrafterNotConfigured
	}

	claimed, err := p.contacts.ClaimForResearch(ctx, job.ID, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim contacts: %w", err)
	}

	if len(claimed) == 0 {
		return p.settleIfDrained(ctx, job)
	}

	log.Printf("Processing enrichment job %s: %d contacts (%d/%d done)", job.ID, len(claimed), job.ProcessedCount+job.FailedCount, job.TotalContacts)

	for i, contact := range claimed {
		if err := ctx.Err(); err != nil {
			p.requeue(claimed[i:])
			return err
		}
		if err := p.processContact(ctx, job.ID, contact); err != nil {
			p.requeue(claimed[i:])
			return err
		}
	}

	if job.Attempts > 0 {
		if err := p.jobs.ResetAttempts(ctx, job.ID); err != nil {
			log.Printf("Failed to reset attempts for job %s: %v", job.ID, err)
		}
	}

	done, err := p.jobs.CompleteIfDone(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if done {
		p.completed(ctx, job.ID)
	}
	return nil
}

// processContact drafts one contact. Only store failures are returned; a
// drafting failure releases the contact and counts it as failed.
func (p *EnrichmentProcessor) processContact(ctx context.Context, jobID string, contact models.Contact) error {
	result, err := p.drafter.Draft(ctx, DraftRequest{
		FullName:    contact.FullName,
		Role:        contact.RawRole,
		Company:     contact.CompanyName,
		LinkedInURL: contact.LinkedInURL,
	})
	if err == nil && !result.StrategyTag.Valid() {
		err = fmt.Errorf("unknown strategy tag %q", result.StrategyTag)
	}
	if err == nil && result.Message == "" {
		err = errors.New("empty draft")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Failed to draft contact %s: %v", contact.ID, err)
		if err := p.contacts.ReleaseFailed(ctx, contact.ID); err != nil {
			return fmt.Errorf("failed to release contact %s: %w", contact.ID, err)
		}
		if _, err := p.jobs.IncrementFailed(ctx, jobID); err != nil {
			return fmt.Errorf("failed to count failure: %w", err)
		}
		return nil
	}

	research := models.Research{
		NewsSummary: stringPtr(result.NewsSummary),
		PainPoints:  stringPtr(result.PainPoints),
		SourceURL:   stringPtr(result.SourceURL),
		RawResponse: result.Raw,
	}
	applied, err := p.contacts.SaveDraft(ctx, contact.ID, research, result.Message, result.StrategyTag)
	if err != nil {
		return fmt.Errorf("failed to save draft for contact %s: %w", contact.ID, err)
	}
	if !applied {
		return p.countAbandoned(ctx, jobID, contact)
	}

	if _, err := p.jobs.IncrementProcessed(ctx, jobID); err != nil {
		return fmt.Errorf("failed to count processed: %w", err)
	}
	log.Printf("Drafted contact %s (%s) with strategy %s", contact.ID, contact.FullName, result.StrategyTag)
	return nil
}

// countAbandoned handles a contact that left RESEARCHING before its draft was
// saved. An archived contact concluded and counts as processed. Anything else
// went back to the pipeline and is counted by whoever finishes it.
func (p *EnrichmentProcessor) countAbandoned(ctx context.Context, jobID string, contact models.Contact) error {
	current, err := p.contacts.GetByID(ctx, contact.UserID, contact.ID)
	if err != nil {
		return fmt.Errorf("failed to reload contact %s: %w", contact.ID, err)
	}
	if current.Status != models.ContactStatusArchived {
		log.Printf("Contact %s was reclaimed (%s) before its draft was saved", contact.ID, current.Status)
		return nil
	}

	log.Printf("Contact %s was archived before its draft was saved", contact.ID)
	if _, err := p.jobs.IncrementProcessed(ctx, jobID); err != nil {
		return fmt.Errorf("failed to count processed: %w", err)
	}
	return nil
}

// settleIfDrained completes a job whose remaining contacts were archived
// before research started
func (p *EnrichmentProcessor) settleIfDrained(ctx context.Context, job models.EnrichmentJob) error {
	open, err := p.contacts.CountOpen(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to count open contacts: %w", err)
	}
	if open > 0 {
		return nil // claimed by another worker
	}

	done, err := p.jobs.CompleteIfDone(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if !done {
		done, err = p.jobs.Settle(ctx, job.ID)
		if err != nil {
			return err
		}
	}
	if done {
		p.completed(ctx, job.ID)
	}
	return nil
}

// HandleFailure records a failed batch. After maxRetries consecutive failures
// the job is marked FAILED and its unfinished contacts are released.
func (p *EnrichmentProcessor) HandleFailure(ctx context.Context, job models.EnrichmentJob, cause error) error {
	attempts, err := p.jobs.IncrementAttempts(ctx, job.ID, cause.Error())
	if err != nil {
		return err
	}

	if attempts < p.maxRetries {
		log.Printf("Enrichment job %s failed (attempt %d/%d), will retry: %v", job.ID, attempts, p.maxRetries, cause)
		return nil
	}

	log.Printf("Enrichment job %s exceeded max retries, marking as failed: %v", job.ID, cause)
	if err := p.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		return err
	}
	released, err := p.contacts.ReleaseJob(ctx, job.ID)
	if err != nil {
		return err
	}

	events.Emit(ctx, p.publisher, events.EnrichmentJobFailed, map[string]interface{}{
		"job_id":            job.ID,
		"user_id":           job.UserID,
		"error":             cause.Error(),
		"contacts_released": released,
	})
	return nil
}

func (p *EnrichmentProcessor) completed(ctx context.Context, jobID string) {
	log.Printf("Enrichment job %s completed", jobID)
	events.Emit(ctx, p.publisher, events.EnrichmentJobCompleted, map[string]string{"job_id": jobID})
}

// requeue puts claimed contacts back so the next batch picks them up.
// Runs on a fresh context since ctx may already be cancelled.
func (p *EnrichmentProcessor) requeue(contacts []models.Contact) {
	ctx := context.Background()
	for _, c := range contacts {
		if err := p.contacts.Requeue(ctx, c.ID); err != nil {
			log.Printf("Failed to requeue contact %s: %v", c.ID, err)
		}
	}
}

// Helper function for pointer conversion
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
