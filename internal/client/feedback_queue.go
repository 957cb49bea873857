package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

var (
	// ErrSwipeRejected means the server refused the outcome and the item
	// was restored to the queue
	ErrSwipeRejected = errors.New("swipe rejected")

	// ErrSwipeFailed means the outcome could not be delivered; the item was
	// restored and the swipe may be retried
	ErrSwipeFailed = errors.New("swipe failed")

	ErrNotInQueue = errors.New("item not in queue")
	ErrInFlight   = errors.New("item has a mutation in flight")
)

// FeedbackAPI is the server side of the feedback loop
type FeedbackAPI interface {
	FeedbackQueue(ctx context.Context, userID string) ([]service.FeedbackItem, error)
	Swipe(ctx context.Context, userID, outreachID string, outcome models.Outcome) error
	AutoDetect(ctx context.Context, userID string) (*service.ScanResult, error)
}

// ItemState is the local overlay on one queue item
type ItemState struct {
	Hidden  bool
	Outcome models.Outcome
}

type TxID int

// txEntry records an optimistic mutation and the state it replaced
type txEntry struct {
	op         string
	outreachID string
	prior      ItemState
}

// FeedbackQueue is the feedback queue as seen by one view. Optimistic
// mutations go through Begin and are settled by Commit or Rollback, which
// only touch the item the mutation changed.
type FeedbackQueue struct {
	api    FeedbackAPI
	userID string

	mu    sync.Mutex
	items []service.FeedbackItem
	state map[string]ItemState
	log   map[TxID]txEntry
	next  TxID
}

func NewFeedbackQueue(api FeedbackAPI, userID string) *FeedbackQueue {
	return &FeedbackQueue{
		api:    api,
		userID: userID,
		state:  make(map[string]ItemState),
		log:    make(map[TxID]txEntry),
	}
}

// Load replaces the queue with the server's pending items. Mutations still
// in flight keep their overlay.
func (q *FeedbackQueue) Load(ctx context.Context) error {
	items, err := q.api.FeedbackQueue(ctx, q.userID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	inFlight := make(map[string]bool, len(q.log))
	for _, e := range q.log {
		inFlight[e.outreachID] = true
	}

	state := make(map[string]ItemState, len(items))
	for _, item := range items {
		if inFlight[item.OutreachID] {
			state[item.OutreachID] = q.state[item.OutreachID]
		}
	}
	q.items = items
	q.state = state
	return nil
}

// Items returns the visible items in server order
func (q *FeedbackQueue) Items() []service.FeedbackItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	visible := make([]service.FeedbackItem, 0, len(q.items))
	for _, item := range q.items {
		if !q.state[item.OutreachID].Hidden {
			visible = append(visible, item)
		}
	}
	return visible
}

// Begin applies an optimistic mutation to one item and logs its prior
// state. An item takes one open mutation at a time.
func (q *FeedbackQueue) Begin(op, outreachID string, apply func(ItemState) ItemState) (TxID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.contains(outreachID) {
		return 0, ErrNotInQueue
	}
	if q.open(outreachID) {
		return 0, ErrInFlight
	}

	prior := q.state[outreachID]
	q.next++
	tx := q.next
	q.log[tx] = txEntry{op: op, outreachID: outreachID, prior: prior}
	q.state[outreachID] = apply(prior)
	return tx, nil
}

// Commit makes a mutation permanent by discarding its log entry
func (q *FeedbackQueue) Commit(tx TxID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.log, tx)
}

// Rollback restores the item the mutation changed
func (q *FeedbackQueue) Rollback(tx TxID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.log[tx]
	if !ok {
		return
	}
	delete(q.log, tx)
	if q.contains(e.outreachID) {
		q.state[e.outreachID] = e.prior
	}
}

// Pending returns the number of unsettled mutations
func (q *FeedbackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.log)
}

// Swipe hides the item at once and records the outcome. On failure the
// item is restored and the error wraps ErrSwipeRejected or ErrSwipeFailed.
func (q *FeedbackQueue) Swipe(ctx context.Context, outreachID string, outcome models.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %w", ErrSwipeRejected, apperr.Validation("unknown outcome %q", outcome))
	}

	tx, err := q.Begin("swipe", outreachID, func(s ItemState) ItemState {
		s.Hidden = true
		s.Outcome = outcome
		return s
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSwipeRejected, err)
	}

	if err := q.api.Swipe(ctx, q.userID, outreachID, outcome); err != nil {
		q.Rollback(tx)
		switch apperr.KindOf(err) {
		case apperr.KindConflict, apperr.KindNotFound, apperr.KindValidation:
			return fmt.Errorf("%w: %w", ErrSwipeRejected, err)
		}
		return fmt.Errorf("%w: %w", ErrSwipeFailed, err)
	}

	q.Commit(tx)
	q.drop(outreachID)
	return nil
}

// AutoDetect asks the server to scan the mailbox for replies and removes
// the attempts it resolved
func (q *FeedbackQueue) AutoDetect(ctx context.Context) (*service.ScanResult, error) {
	result, err := q.api.AutoDetect(ctx, q.userID)
	if err != nil {
		return nil, err
	}

	for _, d := range result.Detected {
		q.drop(d.OutreachID)
	}

	if err := q.Load(ctx); err != nil {
		log.Printf("Failed to reload feedback queue after scan: %v", err)
	}
	return result, nil
}

// drop removes a settled item unless a mutation on it is still open
func (q *FeedbackQueue) drop(outreachID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.open(outreachID) {
		return
	}
	for i, item := range q.items {
		if item.OutreachID == outreachID {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.state, outreachID)
}

// contains must be called with q.mu held
func (q *FeedbackQueue) contains(outreachID string) bool {
	for _, item := range q.items {
		if item.OutreachID == outreachID {
			return true
		}
	}
	return false
}

// open must be called with q.mu held
func (q *FeedbackQueue) open(outreachID string) bool {
	for _, e := range q.log {
		if e.outreachID == outreachID {
			return true
		}
	}
	return false
}
