package watcher

import (
	"context"
	"log"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/config"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

const jobsPerTick = 5

// JobProcessor runs enrichment batches
type JobProcessor interface {
	RecoverStuck(ctx context.Context) error
	RunningJobs(ctx context.Context, limit int) ([]models.EnrichmentJob, error)
	ProcessJob(ctx context.Context, job models.EnrichmentJob) error
	HandleFailure(ctx context.Context, job models.EnrichmentJob, cause error) error
}

// Clock schedules the next poll
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Watcher struct {
	processor    JobProcessor
	pollInterval time.Duration
	jobsPerTick  int
	clock        Clock
}

func New(cfg *config.Config, processor JobProcessor) *Watcher {
	return &Watcher{
		processor:    processor,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
		jobsPerTick:  jobsPerTick,
		clock:        realClock{},
	}
}

// Start begins watching for running enrichment jobs
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for enrichment jobs...")

	// Contacts left in RESEARCHING by a crash would never be claimed again
	if err := w.processor.RecoverStuck(ctx); err != nil {
		log.Printf("Warning: failed to recover stuck contacts: %v", err)
	}

	// Process any running jobs from previous runs
	if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Warning: failed to process running jobs on startup: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-w.clock.After(w.pollInterval):
			if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Error processing jobs: %v", err)
			}
		}
	}
}

// RunOnce processes a single round of running jobs
func (w *Watcher) RunOnce(ctx context.Context) error {
	return w.processEnrichmentJobs(ctx)
}
