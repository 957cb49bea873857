package watcher

import (
	"context"
	"errors"
	"log"

	"github.com/vipul43/kiwis-outreach/internal/service"
)

// processEnrichmentJobs runs one batch for each running job (round-robin by creation time)
func (w *Watcher) processEnrichmentJobs(ctx context.Context) error {
	jobs, err := w.processor.RunningJobs(ctx, w.jobsPerTick)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Found %d enrichment job(s) to process", len(jobs))

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.processor.ProcessJob(ctx, job)
		switch {
		case err == nil:
			continue
		case errors.Is(err, service.ErrDrafterNotConfigured):
			// Retrying cannot help until the key is configured
			log.Printf("Skipping enrichment job %s: %v", job.ID, err)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}

		log.Printf("Failed to process enrichment job %s: %v", job.ID, err)
		if herr := w.processor.HandleFailure(ctx, job, err); herr != nil {
			log.Printf("Failed to record failure for job %s: %v", job.ID, herr)
		}
	}

	return nil
}
