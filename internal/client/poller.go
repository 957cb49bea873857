package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

const (
	DefaultPollInterval = 3 * time.Second
	maxPollBackoff      = 30 * time.Second
)

// ErrJobFailed is returned by Tracking.Result when the job was aborted.
// Per-contact failures do not cause it.
var ErrJobFailed = errors.New("enrichment job failed")

// Clock drives poll scheduling
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// StatusSource reads job progress
type StatusSource interface {
	JobStatus(ctx context.Context, userID, jobID string) (*service.JobProgress, error)
}

type JobPoller struct {
	source   StatusSource
	clock    Clock
	interval time.Duration
}

// NewJobPoller creates a poller. A nil clock uses wall time and a
// non-positive interval uses DefaultPollInterval.
func NewJobPoller(source StatusSource, clock Clock, interval time.Duration) *JobPoller {
	if clock == nil {
		clock = realClock{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &JobPoller{source: source, clock: clock, interval: interval}
}

// Tracking is the handle for one followed job. Its owner must call Stop
// when it no longer needs updates.
type Tracking struct {
	updates chan service.JobProgress
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once

	mu     sync.Mutex
	result *service.JobProgress
	err    error
}

// Updates delivers progress after each successful poll. Only the latest
// unread update is kept.
func (t *Tracking) Updates() <-chan service.JobProgress { return t.updates }

// Done is closed when the job reaches a terminal status or tracking stops
func (t *Tracking) Done() <-chan struct{} { return t.done }

// Result returns the final progress once Done is closed. The error is
// ErrJobFailed for a FAILED job, the context error after Stop, or the
// non-retryable poll error that ended tracking.
func (t *Tracking) Result() (*service.JobProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Stop abandons polling and waits for the loop to exit. No poll is issued
// after Stop returns.
func (t *Tracking) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

func (t *Tracking) publish(p service.JobProgress) {
	select {
	case t.updates <- p:
		return
	default:
	}
	// Drop the stale update so the reader sees the latest
	select {
	case <-t.updates:
	default:
	}
	select {
	case t.updates <- p:
	default:
	}
}

func (t *Tracking) finish(result *service.JobProgress, err error) {
	t.mu.Lock()
	t.result, t.err = result, err
	t.mu.Unlock()
	close(t.done)
}

// Track follows the job started by an upload. An upload that created no
// contacts is done at 100% without polling.
func (p *JobPoller) Track(ctx context.Context, userID string, upload service.UploadResult) *Tracking {
	ctx, cancel := context.WithCancel(ctx)
	t := &Tracking{
		updates: make(chan service.JobProgress, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	if upload.ContactsCreated == 0 || upload.JobID == "" {
		final := service.JobProgress{
			JobID:    upload.JobID,
			Status:   models.JobStatusCompleted,
			Progress: 100,
		}
		t.publish(final)
		t.finish(&final, nil)
		return t
	}

	go p.run(ctx, t, userID, upload.JobID)
	return t
}

func (p *JobPoller) run(ctx context.Context, t *Tracking, userID, jobID string) {
	var (
		delay    time.Duration
		failures int
	)

	for {
		select {
		case <-ctx.Done():
			t.finish(nil, ctx.Err())
			return
		case <-p.clock.After(delay):
		}
		if ctx.Err() != nil {
			t.finish(nil, ctx.Err())
			return
		}

		progress, err := p.source.JobStatus(ctx, userID, jobID)
		if ctx.Err() != nil {
			// Abandoned mid-poll; drop whatever came back
			t.finish(nil, ctx.Err())
			return
		}

		if err != nil {
			if !apperr.IsTransient(err) {
				t.finish(nil, err)
				return
			}
			failures++
			delay = p.backoff(failures)
			log.Printf("Job %s status poll failed (attempt %d), retrying in %s: %v", jobID, failures, delay, err)
			continue
		}

		failures = 0
		delay = p.interval
		t.publish(*progress)

		switch progress.Status {
		case models.JobStatusCompleted:
			t.finish(progress, nil)
			return
		case models.JobStatusFailed:
			t.finish(progress, ErrJobFailed)
			return
		}
	}
}

// backoff doubles the interval per consecutive failure, capped
func (p *JobPoller) backoff(failures int) time.Duration {
	d := p.interval
	for i := 0; i < failures && d < maxPollBackoff; i++ {
		d *= 2
	}
	if d > maxPollBackoff {
		d = maxPollBackoff
	}
	return d
}
