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

type MailAccountRepository struct {
	db *gorm.DB
}

func NewMailAccountRepository(db *gorm.DB) *MailAccountRepository {
	return &MailAccountRepository{db: db}
}

// GetByUserID retrieves the user's mail account
func (r *MailAccountRepository) GetByUserID(ctx context.Context, userID string) (*models.MailAccount, error) {
	var account models.MailAccount
	result := r.db.WithContext(ctx).First(&account, "user_id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("mail account", userID)
		}
		return nil, fmt.Errorf("failed to get mail account: %w", result.Error)
	}
	return &account, nil
}

// Upsert stores the account, replacing the user's previous credentials
func (r *MailAccountRepository) Upsert(ctx context.Context, account models.MailAccount) error {
	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_id", "email_address", "access_token", "refresh_token",
			"access_token_expires_at", "scope", "updated_at",
		}),
	}).Create(&account)
	if result.Error != nil {
		return fmt.Errorf("failed to save mail account: %w", result.Error)
	}
	return nil
}

// UpdateTokens updates access token, refresh token, and the access token expiry
func (r *MailAccountRepository) UpdateTokens(ctx context.Context, userID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.MailAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"access_token":            accessToken,
			"refresh_token":           refreshToken,
			"access_token_expires_at": accessTokenExpiresAt,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// Delete removes the user's mail account. Deleting a missing account is a no-op.
func (r *MailAccountRepository) Delete(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.MailAccount{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete mail account: %w", result.Error)
	}
	return nil
}
