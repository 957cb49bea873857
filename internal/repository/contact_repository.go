package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// CreateWithJob inserts an enrichment job and its imported contacts in one
// transaction, so a worker never sees the job without its contacts
func (r *ContactRepository) CreateWithJob(ctx context.Context, job models.EnrichmentJob, contacts []models.Contact) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(`
			INSERT INTO enrichment_jobs (
				id, user_id, total_contacts, processed_count, failed_count,
				status, attempts, created_at, updated_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.UserID, job.TotalContacts, job.ProcessedCount, job.FailedCount,
			job.Status, job.Attempts, job.CreatedAt, job.UpdatedAt, job.CompletedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if len(contacts) == 0 {
			return nil
		}
		return tx.CreateInBatches(&contacts, 200).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create contacts: %w", err)
	}
	return nil
}

// GetByID retrieves a contact owned by userID, with research when present
func (r *ContactRepository) GetByID(ctx context.Context, userID, contactID string) (*models.Contact, error) {
	var contact models.Contact
	result := r.db.WithContext(ctx).
		Preload("Research").
		First(&contact, "id = ? AND user_id = ?", contactID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contact", contactID)
		}
		return nil, fmt.Errorf("failed to get contact: %w", result.Error)
	}
	return &contact, nil
}

// List returns a page of the user's non-archived contacts in insertion order
func (r *ContactRepository) List(ctx context.Context, userID string, limit, offset int) ([]models.Contact, int64, error) {
	return r.page(ctx, r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, models.ContactStatusArchived), limit, offset)
}

// ListDrafts returns a page of DRAFT_READY contacts in insertion order
func (r *ContactRepository) ListDrafts(ctx context.Context, userID string, limit, offset int) ([]models.Contact, int64, error) {
	return r.page(ctx, r.db.WithContext(ctx).
		Preload("Research").
		Where("user_id = ? AND status = ?", userID, models.ContactStatusDraftReady), limit, offset)
}

func (r *ContactRepository) page(ctx context.Context, q *gorm.DB, limit, offset int) ([]models.Contact, int64, error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Model(&models.Contact{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count contacts: %w", err)
	}

	var contacts []models.Contact
	result := q.Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&contacts)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list contacts: %w", result.Error)
	}
	return contacts, total, nil
}

// ExistingKeys returns every dedupe key already stored for the user
func (r *ContactRepository) ExistingKeys(ctx context.Context, userID string) (map[string]struct{}, error) {
	var keys []string
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("user_id = ? AND dedupe_key <> ''", userID).
		Pluck("dedupe_key", &keys)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load dedupe keys: %w", result.Error)
	}

	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, nil
}

// ClaimForResearch moves up to limit NEW contacts of a job to RESEARCHING and
// returns them. Rows locked by another worker are skipped.
func (r *ContactRepository) ClaimForResearch(ctx context.Context, jobID string, limit int) ([]models.Contact, error) {
	var claimed []models.Contact
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		result := tx.Model(&models.Contact{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("enrichment_job_id = ? AND status = ?", jobID, models.ContactStatusNew).
			Order("created_at ASC").
			Limit(limit).
			Pluck("id", &ids)
		if result.Error != nil {
			return result.Error
		}
		if len(ids) == 0 {
			return nil
		}

		result = tx.Model(&models.Contact{}).
			Where("id IN ? AND status = ?", ids, models.ContactStatusNew).
			Updates(map[string]interface{}{
				"status":     models.ContactStatusResearching,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}

		return tx.Where("id IN ?", ids).Order("created_at ASC").Find(&claimed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim contacts: %w", err)
	}
	return claimed, nil
}

// SaveDraft stores research and the generated draft and moves the contact
// from RESEARCHING to DRAFT_READY in one transaction. Returns false when the
// contact left RESEARCHING in the meantime (archived by the user).
func (r *ContactRepository) SaveDraft(ctx context.Context, contactID string, research models.Research, draft string, tag models.StrategyTag) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Model(&models.Contact{}).
			Where("id = ? AND status = ?", contactID, models.ContactStatusResearching).
			Updates(map[string]interface{}{
				"status":        models.ContactStatusDraftReady,
				"draft_message": draft,
				"strategy_tag":  tag,
				"updated_at":    now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if research.ID == "" {
			research.ID = uuid.New().String()
		}
		research.ContactID = contactID
		research.LastUpdated = now

		result = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contact_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"news_summary", "pain_points", "source_url", "raw_response", "last_updated"}),
		}).Create(&research)
		if result.Error != nil {
			return result.Error
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to save draft: %w", err)
	}
	return applied, nil
}

// ReleaseFailed returns a contact whose enrichment failed to NEW and detaches
// it from its job so it can be picked up by a later ingestion
func (r *ContactRepository) ReleaseFailed(ctx context.Context, contactID string) error {
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND status = ?", contactID, models.ContactStatusResearching).
		Updates(map[string]interface{}{
			"status":            models.ContactStatusNew,
			"enrichment_job_id": nil,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release contact: %w", result.Error)
	}
	return nil
}

// ReleaseJob detaches every unfinished contact of an aborted job
func (r *ContactRepository) ReleaseJob(ctx context.Context, jobID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("enrichment_job_id = ? AND status IN ?", jobID,
			[]models.ContactStatus{models.ContactStatusNew, models.ContactStatusResearching}).
		Updates(map[string]interface{}{
			"status":            models.ContactStatusNew,
			"enrichment_job_id": nil,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release job contacts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ResetStuck returns contacts left in RESEARCHING since before staleBefore to
// NEW. They keep their job so the pipeline claims them again. Fresher claims
// belong to a live worker and are left alone.
func (r *ContactRepository) ResetStuck(ctx context.Context, staleBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("status = ? AND updated_at < ?", models.ContactStatusResearching, staleBefore).
		Updates(map[string]interface{}{
			"status":     models.ContactStatusNew,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset stuck contacts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Archive moves a non-archived contact to ARCHIVED. Returns false when the
// contact is missing, foreign, or already archived.
func (r *ContactRepository) Archive(ctx context.Context, userID, contactID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND user_id = ? AND status <> ?", contactID, userID, models.ContactStatusArchived).
		Updates(map[string]interface{}{
			"status":     models.ContactStatusArchived,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to archive contact: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Requeue returns a RESEARCHING contact to NEW without leaving its job
func (r *ContactRepository) Requeue(ctx context.Context, contactID string) error {
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND status = ?", contactID, models.ContactStatusResearching).
		Updates(map[string]interface{}{
			"status":     models.ContactStatusNew,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue contact: %w", result.Error)
	}
	return nil
}

// CountOpen counts the job's contacts still NEW or RESEARCHING
func (r *ContactRepository) CountOpen(ctx context.Context, jobID string) (int64, error) {
	var n int64
	result := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("enrichment_job_id = ? AND status IN ?", jobID,
			[]models.ContactStatus{models.ContactStatusNew, models.ContactStatusResearching}).
		Count(&n)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count open contacts: %w", result.Error)
	}
	return n, nil
}
