package service

import (
	"context"
	"log"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/events"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

// AttemptStore reads and resolves outreach attempts
type AttemptStore interface {
	GetByID(ctx context.Context, userID, outreachID string) (*models.OutreachAttempt, error)
	ListActionable(ctx context.Context, userID string, now time.Time) ([]models.OutreachAttempt, error)
	CompletePending(ctx context.Context, userID, outreachID string, outcome models.Outcome, at time.Time) (bool, error)
}

// ReplyDetector checks the user's mailbox for replies from a contact
type ReplyDetector interface {
	Connected(ctx context.Context, userID string) (bool, error)
	HasReplySince(ctx context.Context, userID string, contact models.Contact, since time.Time) (bool, error)
}

type FeedbackItem struct {
	OutreachID     string             `json:"outreach_id"`
	ContactID      string             `json:"contact_id"`
	FullName       string             `json:"full_name"`
	CompanyName    string             `json:"company_name"`
	StrategyTag    models.StrategyTag `json:"strategy_tag"`
	SentAt         time.Time          `json:"sent_at"`
	FeedbackDueAt  time.Time          `json:"feedback_due_at"`
	MessagePreview string             `json:"message_preview"`
}

type DetectedReply struct {
	OutreachID  string `json:"outreach_id"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
}

type ScanResult struct {
	Detected []DetectedReply `json:"detected"`
	Count    int             `json:"count"`
}

type FeedbackService struct {
	attempts  AttemptStore
	detector  ReplyDetector
	publisher events.Publisher
	now       func() time.Time
}

func NewFeedbackService(attempts AttemptStore, detector ReplyDetector, publisher events.Publisher) *FeedbackService {
	return &FeedbackService{
		attempts:  attempts,
		detector:  detector,
		publisher: publisher,
		now:       time.Now,
	}
}

// ListPending returns attempts awaiting feedback, computed at read time:
// PENDING, due, and not archived, ordered by due date then ID
func (s *FeedbackService) ListPending(ctx context.Context, userID string) ([]FeedbackItem, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}

	attempts, err := s.attempts.ListActionable(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	items := make([]FeedbackItem, 0, len(attempts))
	for _, a := range attempts {
		item := FeedbackItem{
			OutreachID:     a.ID,
			ContactID:      a.ContactID,
			StrategyTag:    a.StrategyTag,
			SentAt:         a.SentAt,
			FeedbackDueAt:  a.FeedbackDueAt,
			MessagePreview: models.MessagePreview(a.MessageBody),
		}
		if a.Contact != nil {
			item.FullName = a.Contact.FullName
			item.CompanyName = a.Contact.CompanyName
		}
		items = append(items, item)
	}
	return items, nil
}

// RecordOutcome resolves a pending attempt. The stored outcome never changes
// once recorded.
func (s *FeedbackService) RecordOutcome(ctx context.Context, userID, outreachID string, outcome models.Outcome) error {
	if userID == "" || outreachID == "" {
		return apperr.Validation("user_id and outreach_id are required")
	}
	if !outcome.Valid() {
		return apperr.Validation("unknown outcome %q", outcome)
	}

	applied, err := s.attempts.CompletePending(ctx, userID, outreachID, outcome, s.now().UTC())
	if err != nil {
		return err
	}
	if !applied {
		return s.outcomeRejection(ctx, userID, outreachID)
	}

	log.Printf("Recorded outcome %s for outreach %s", outcome, outreachID)
	events.Emit(ctx, s.publisher, events.FeedbackRecorded, map[string]interface{}{
		"outreach_id": outreachID,
		"user_id":     userID,
		"outcome":     outcome,
	})
	return nil
}

func (s *FeedbackService) outcomeRejection(ctx context.Context, userID, outreachID string) error {
	attempt, err := s.attempts.GetByID(ctx, userID, outreachID)
	if err != nil {
		return err
	}
	if attempt.FeedbackStatus == models.FeedbackCompleted {
		recorded := ""
		if attempt.Outcome != nil {
			recorded = string(*attempt.Outcome)
		}
		return apperr.Conflict(apperr.CodeAlreadyRecorded, "outreach %s already recorded as %s", outreachID, recorded)
	}
	return apperr.Transient(nil, "outcome for outreach %s was not recorded, retry", outreachID)
}

// ScanForReplies checks the mailbox for replies to every actionable attempt
// and records detected ones as REPLIED. Attempts resolved concurrently are
// skipped, not counted. When ctx ends mid-scan the replies recorded so far
// are returned with the context error.
func (s *FeedbackService) ScanForReplies(ctx context.Context, userID string) (*ScanResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if s.detector == nil {
		return nil, apperr.Validation("reply detection is not configured")
	}

	connected, err := s.detector.Connected(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, apperr.Validation("no mail account connected for user %s", userID)
	}

	attempts, err := s.attempts.ListActionable(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Detected: []DetectedReply{}}
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			result.Count = len(result.Detected)
			return result, err
		}
		if a.Contact == nil {
			continue
		}

		replied, err := s.detector.HasReplySince(ctx, userID, *a.Contact, a.SentAt)
		if err != nil {
			log.Printf("Failed to check replies for outreach %s: %v", a.ID, err)
			continue
		}
		if !replied {
			continue
		}

		err = s.RecordOutcome(ctx, userID, a.ID, models.OutcomeReplied)
		if apperr.IsConflict(err) || apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			log.Printf("Failed to record reply for outreach %s: %v", a.ID, err)
			continue
		}

		result.Detected = append(result.Detected, DetectedReply{
			OutreachID:  a.ID,
			FullName:    a.Contact.FullName,
			CompanyName: a.Contact.CompanyName,
		})
	}
	result.Count = len(result.Detected)

	log.Printf("Reply scan for user %s: %d of %d attempts replied", userID, result.Count, len(attempts))
	return result, nil
}
