package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

func TestJobTracker_StartJob_ZeroContactsIsCompleted(t *testing.T) {
	store := newMemStore()
	tracker := NewJobTracker(store.jobRepo())
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	tracker.now = fixedClock(now)

	job, err := tracker.StartJob(context.Background(), "user-1", 0)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, job.CompletedAt.Equal(now))

	progress, err := tracker.Poll(context.Background(), "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.Progress)
	assert.Equal(t, 0, progress.TotalContacts)
}

func TestJobTracker_StartJob_Running(t *testing.T) {
	store := newMemStore()
	tracker := NewJobTracker(store.jobRepo())

	job, err := tracker.StartJob(context.Background(), "user-1", 4)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, 4, job.TotalContacts)
	assert.NoError(t, job.Validate())
}

func TestJobTracker_StartJob_Negative(t *testing.T) {
	tracker := NewJobTracker(newMemStore().jobRepo())

	_, err := tracker.StartJob(context.Background(), "user-1", -1)
	assert.True(t, apperr.IsValidation(err))
}

func TestJobTracker_Poll_ReportsCounts(t *testing.T) {
	store := newMemStore()
	tracker := NewJobTracker(store.jobRepo())
	ctx := context.Background()

	job, err := tracker.StartJob(ctx, "user-1", 5)
	require.NoError(t, err)
	_, _ = store.jobRepo().IncrementProcessed(ctx, job.ID)
	_, _ = store.jobRepo().IncrementProcessed(ctx, job.ID)
	_, _ = store.jobRepo().IncrementFailed(ctx, job.ID)

	progress, err := tracker.Poll(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, progress.Status)
	assert.Equal(t, 2, progress.ProcessedCount)
	assert.Equal(t, 1, progress.FailedCount)
	assert.Equal(t, 40, progress.Progress)

	// Polling never changes the job
	again, err := tracker.Poll(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, progress, again)
}

func TestJobTracker_Poll_OtherUserIsNotFound(t *testing.T) {
	store := newMemStore()
	tracker := NewJobTracker(store.jobRepo())

	job, err := tracker.StartJob(context.Background(), "user-1", 2)
	require.NoError(t, err)

	_, err = tracker.Poll(context.Background(), "user-2", job.ID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = tracker.Poll(context.Background(), "user-1", "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestIngestor_Upload(t *testing.T) {
	store := newMemStore()
	tracker := NewJobTracker(store.jobRepo())
	ingestor := NewIngestor(store.contactRepo(), tracker)

	csv := strings.Join([]string{
		"Notes:",
		`"When exporting your connection data, you may notice that some of the email addresses are missing."`,
		"",
		"First Name,Last Name,URL,Email Address,Company,Position,Connected On",
		"Sarah,Chen,https://www.linkedin.com/in/sarahchen/,sarah@acme.io,Acme,VP Engineering,01 Jan 2026",
		"Raj,Patel,,,Globex,CTO,02 Jan 2026",
		"Sarah,Chen,https://linkedin.com/in/SarahChen,,Acme,VP Engineering,03 Jan 2026",
		",,https://linkedin.com/in/ghost,,Nowhere,,04 Jan 2026",
		"José,Núñez,,,Initech,Founder,05 Jan 2026",
	}, "\n")

	result, err := ingestor.Upload(context.Background(), "user-1", strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 3, result.ContactsCreated)
	assert.Equal(t, 2, result.ContactsSkipped)
	require.NotEmpty(t, result.JobID)

	job := store.job(result.JobID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 3, job.TotalContacts)

	contacts, total, err := store.contactRepo().List(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	assert.Equal(t, "Sarah Chen", contacts[0].FullName)
	assert.Equal(t, "VP Engineering", contacts[0].RawRole)
	require.NotNil(t, contacts[0].Email)
	assert.Equal(t, "sarah@acme.io", *contacts[0].Email)
	assert.Equal(t, "Raj Patel", contacts[1].FullName)
	assert.Nil(t, contacts[1].Email)
	for _, c := range contacts {
		assert.Equal(t, models.ContactStatusNew, c.Status)
		require.NotNil(t, c.EnrichmentJobID)
		assert.Equal(t, result.JobID, *c.EnrichmentJobID)
	}

	// Re-importing the same file creates nothing and finishes immediately
	again, err := ingestor.Upload(context.Background(), "user-1", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 0, again.ContactsCreated)
	assert.Equal(t, 5, again.ContactsSkipped)
	assert.Equal(t, models.JobStatusCompleted, store.job(again.JobID).Status)
}

func TestIngestor_Upload_StoreFailureLeavesNoJob(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("connection reset")
	ingestor := NewIngestor(store.contactRepo(), NewJobTracker(store.jobRepo()))

	csv := "First Name,Last Name,Company\nSarah,Chen,Acme\nRaj,Patel,Globex\n"
	_, err := ingestor.Upload(context.Background(), "user-1", strings.NewReader(csv))
	require.Error(t, err)

	running, err := store.jobRepo().GetRunning(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, running)
	assert.Empty(t, store.jobs)
	assert.Empty(t, store.contacts)
}

func TestIngestor_Upload_NoHeader(t *testing.T) {
	store := newMemStore()
	ingestor := NewIngestor(store.contactRepo(), NewJobTracker(store.jobRepo()))

	_, err := ingestor.Upload(context.Background(), "user-1", strings.NewReader("a,b,c\n1,2,3\n"))
	assert.True(t, apperr.IsValidation(err))

	_, err = ingestor.Upload(context.Background(), "user-1", strings.NewReader(""))
	assert.True(t, apperr.IsValidation(err))
}

func TestDedupeKey(t *testing.T) {
	tests := []struct {
		name     string
		a        [3]string
		b        [3]string
		expected bool
	}{
		{"same url different form", [3]string{"Sarah", "", "https://www.linkedin.com/in/sarah/"}, [3]string{"S. Chen", "", "linkedin.com/in/Sarah"}, true},
		{"accents and case folded", [3]string{"José  Núñez", "Initech", ""}, [3]string{"jose nunez", "INITECH", ""}, true},
		{"different company", [3]string{"Sam Lee", "Acme", ""}, [3]string{"Sam Lee", "Globex", ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := DedupeKey(tt.a[0], tt.a[1], tt.a[2])
			kb := DedupeKey(tt.b[0], tt.b[1], tt.b[2])
			assert.Equal(t, tt.expected, ka == kb, "%s vs %s", ka, kb)
		})
	}
}
