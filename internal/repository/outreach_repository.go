package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"gorm.io/gorm"
)

// errNotApplied aborts a transaction whose guarded update matched no row
var errNotApplied = errors.New("conditional update not applied")

type OutreachRepository struct {
	db *gorm.DB
}

func NewOutreachRepository(db *gorm.DB) *OutreachRepository {
	return &OutreachRepository{db: db}
}

const ownedAttempt = "contact_id IN (SELECT id FROM contacts WHERE user_id = ?)"

// CreateWithSend moves the contact from DRAFT_READY to SENT and inserts the
// attempt in one transaction. Returns false without error when the contact is
// not DRAFT_READY for this user or a pending attempt already exists for it.
func (r *OutreachRepository) CreateWithSend(ctx context.Context, userID string, attempt models.OutreachAttempt) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Contact{}).
			Where("id = ? AND user_id = ? AND status = ?", attempt.ContactID, userID, models.ContactStatusDraftReady).
			Updates(map[string]interface{}{
				"status":        models.ContactStatusSent,
				"draft_message": attempt.MessageBody,
				"strategy_tag":  attempt.StrategyTag,
				"updated_at":    attempt.SentAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errNotApplied
		}

		attempt.Contact = nil
		if err := tx.Create(&attempt).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errNotApplied
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotApplied) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record send: %w", err)
	}
	return true, nil
}

// GetByID retrieves an attempt whose contact belongs to userID
func (r *OutreachRepository) GetByID(ctx context.Context, userID, outreachID string) (*models.OutreachAttempt, error) {
	var attempt models.OutreachAttempt
	result := r.db.WithContext(ctx).
		Preload("Contact").
		Where(ownedAttempt, userID).
		First(&attempt, "id = ?", outreachID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("outreach attempt", outreachID)
		}
		return nil, fmt.Errorf("failed to get outreach attempt: %w", result.Error)
	}
	return &attempt, nil
}

// CompletePending records an outcome on a PENDING attempt.
// Returns false when the attempt is missing, foreign, or already completed.
func (r *OutreachRepository) CompletePending(ctx context.Context, userID, outreachID string, outcome models.Outcome, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.OutreachAttempt{}).
		Where("id = ? AND feedback_status = ?", outreachID, models.FeedbackPending).
		Where(ownedAttempt, userID).
		Updates(map[string]interface{}{
			"feedback_status": models.FeedbackCompleted,
			"outcome":         outcome,
			"completed_at":    at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to record outcome: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListActionable returns pending attempts due at or before now whose contact
// is not archived, ordered by due date then ID
func (r *OutreachRepository) ListActionable(ctx context.Context, userID string, now time.Time) ([]models.OutreachAttempt, error) {
	var attempts []models.OutreachAttempt
	result := r.db.WithContext(ctx).
		Preload("Contact").
		Joins("JOIN contacts ON contacts.id = outreach_attempts.contact_id").
		Where("contacts.user_id = ? AND contacts.status <> ?", userID, models.ContactStatusArchived).
		Where("outreach_attempts.feedback_status = ? AND outreach_attempts.feedback_due_at <= ?", models.FeedbackPending, now).
		Order("outreach_attempts.feedback_due_at ASC").
		Order("outreach_attempts.id ASC").
		Find(&attempts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list actionable attempts: %w", result.Error)
	}
	return attempts, nil
}

// ListByUser returns every attempt of the user with its contact, oldest first
func (r *OutreachRepository) ListByUser(ctx context.Context, userID string) ([]models.OutreachAttempt, error) {
	var attempts []models.OutreachAttempt
	result := r.db.WithContext(ctx).
		Preload("Contact").
		Where(ownedAttempt, userID).
		Order("sent_at ASC").
		Find(&attempts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", result.Error)
	}
	return attempts, nil
}
