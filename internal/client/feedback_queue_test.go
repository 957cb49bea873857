package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

type fakeFeedbackAPI struct {
	mu        sync.Mutex
	items     []service.FeedbackItem
	swipeFunc func(ctx context.Context, outreachID string, outcome models.Outcome) error
	scanFunc  func(ctx context.Context) (*service.ScanResult, error)
	loads     int
}

func (f *fakeFeedbackAPI) FeedbackQueue(ctx context.Context, userID string) ([]service.FeedbackItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return append([]service.FeedbackItem(nil), f.items...), nil
}

func (f *fakeFeedbackAPI) Swipe(ctx context.Context, userID, outreachID string, outcome models.Outcome) error {
	if f.swipeFunc != nil {
		if err := f.swipeFunc(ctx, outreachID, outcome); err != nil {
			return err
		}
	}
	f.remove(outreachID)
	return nil
}

func (f *fakeFeedbackAPI) AutoDetect(ctx context.Context, userID string) (*service.ScanResult, error) {
	return f.scanFunc(ctx)
}

func (f *fakeFeedbackAPI) remove(outreachID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, item := range f.items {
		if item.OutreachID == outreachID {
			f.items = append(f.items[:i:i], f.items[i+1:]...)
			return
		}
	}
}

func queueOf(ids ...string) *fakeFeedbackAPI {
	api := &fakeFeedbackAPI{}
	for _, id := range ids {
		api.items = append(api.items, service.FeedbackItem{OutreachID: id, FullName: "Contact " + id})
	}
	return api
}

func ids(items []service.FeedbackItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.OutreachID)
	}
	return out
}

func loadedQueue(t *testing.T, api *fakeFeedbackAPI) *FeedbackQueue {
	t.Helper()
	q := NewFeedbackQueue(api, "user-1")
	require.NoError(t, q.Load(context.Background()))
	return q
}

func TestFeedbackQueue_SwipeSuccessIsPermanent(t *testing.T) {
	api := queueOf("A", "B", "C")
	q := loadedQueue(t, api)

	require.NoError(t, q.Swipe(context.Background(), "B", models.OutcomeGhosted))
	assert.Equal(t, []string{"A", "C"}, ids(q.Items()))
	assert.Equal(t, 0, q.Pending())

	err := q.Swipe(context.Background(), "B", models.OutcomeReplied)
	assert.ErrorIs(t, err, ErrSwipeRejected)
	assert.ErrorIs(t, err, ErrNotInQueue)
}

func TestFeedbackQueue_RejectionRestoresOriginalOrder(t *testing.T) {
	api := queueOf("A", "B", "C")
	api.swipeFunc = func(ctx context.Context, outreachID string, outcome models.Outcome) error {
		return apperr.Conflict(apperr.CodeAlreadyRecorded, "outcome already recorded")
	}
	q := loadedQueue(t, api)

	err := q.Swipe(context.Background(), "B", models.OutcomeReplied)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSwipeRejected)
	assert.NotErrorIs(t, err, ErrSwipeFailed)
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyRecorded))

	assert.Equal(t, []string{"A", "B", "C"}, ids(q.Items()))
	assert.Equal(t, 0, q.Pending())
}

func TestFeedbackQueue_NetworkFailureIsDistinct(t *testing.T) {
	api := queueOf("A", "B")
	api.swipeFunc = func(ctx context.Context, outreachID string, outcome models.Outcome) error {
		return apperr.Transient(errors.New("connection reset"), "POST /feedback/swipe failed")
	}
	q := loadedQueue(t, api)

	err := q.Swipe(context.Background(), "A", models.OutcomeBounced)
	assert.ErrorIs(t, err, ErrSwipeFailed)
	assert.NotErrorIs(t, err, ErrSwipeRejected)
	assert.Equal(t, []string{"A", "B"}, ids(q.Items()))
}

func TestFeedbackQueue_RollbackOnlyTouchesFailedMutation(t *testing.T) {
	api := queueOf("A", "B", "C")
	api.swipeFunc = func(ctx context.Context, outreachID string, outcome models.Outcome) error {
		return apperr.NotFound("outreach attempt", outreachID)
	}
	q := loadedQueue(t, api)

	// An unrelated optimistic mutation on A stays applied
	txA, err := q.Begin("hide", "A", func(s ItemState) ItemState {
		s.Hidden = true
		return s
	})
	require.NoError(t, err)

	err = q.Swipe(context.Background(), "B", models.OutcomeGhosted)
	assert.ErrorIs(t, err, ErrSwipeRejected)
	assert.Equal(t, []string{"B", "C"}, ids(q.Items()))
	assert.Equal(t, 1, q.Pending())

	q.Rollback(txA)
	assert.Equal(t, []string{"A", "B", "C"}, ids(q.Items()))
}

func TestFeedbackQueue_ItemHiddenWhileInFlight(t *testing.T) {
	api := queueOf("A", "B", "C")
	entered := make(chan struct{})
	release := make(chan error)
	api.swipeFunc = func(ctx context.Context, outreachID string, outcome models.Outcome) error {
		close(entered)
		return <-release
	}
	q := loadedQueue(t, api)

	errCh := make(chan error, 1)
	go func() { errCh <- q.Swipe(context.Background(), "B", models.OutcomeReplied) }()
	<-entered

	assert.Equal(t, []string{"A", "C"}, ids(q.Items()))

	// A second swipe on the same item waits for the first to settle
	err := q.Swipe(context.Background(), "B", models.OutcomeGhosted)
	assert.ErrorIs(t, err, ErrInFlight)

	// A refresh mid-flight keeps the optimistic overlay
	require.NoError(t, q.Load(context.Background()))
	assert.Equal(t, []string{"A", "C"}, ids(q.Items()))

	release <- apperr.Conflict(apperr.CodeAlreadyRecorded, "outcome already recorded")
	assert.ErrorIs(t, <-errCh, ErrSwipeRejected)
	assert.Equal(t, []string{"A", "B", "C"}, ids(q.Items()))
}

func TestFeedbackQueue_InvalidOutcome(t *testing.T) {
	api := queueOf("A")
	api.swipeFunc = func(ctx context.Context, outreachID string, outcome models.Outcome) error {
		t.Error("server called with invalid outcome")
		return nil
	}
	q := loadedQueue(t, api)

	err := q.Swipe(context.Background(), "A", models.Outcome("MAYBE"))
	assert.ErrorIs(t, err, ErrSwipeRejected)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, []string{"A"}, ids(q.Items()))
}

func TestFeedbackQueue_AutoDetectRemovesDetected(t *testing.T) {
	api := queueOf("A", "B", "C")
	api.scanFunc = func(ctx context.Context) (*service.ScanResult, error) {
		api.remove("A")
		api.remove("C")
		return &service.ScanResult{
			Detected: []service.DetectedReply{{OutreachID: "A"}, {OutreachID: "C"}},
			Count:    2,
		}, nil
	}
	q := loadedQueue(t, api)

	result, err := q.AutoDetect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, []string{"B"}, ids(q.Items()))
	assert.Equal(t, 2, api.loads)
}

func TestFeedbackQueue_AutoDetectErrorLeavesQueue(t *testing.T) {
	api := queueOf("A")
	api.scanFunc = func(ctx context.Context) (*service.ScanResult, error) {
		return nil, apperr.Validation("no mailbox connected")
	}
	q := loadedQueue(t, api)

	_, err := q.AutoDetect(context.Background())
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, []string{"A"}, ids(q.Items()))
}
