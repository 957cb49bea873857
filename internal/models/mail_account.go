package models

import "time"

// MailAccount is a user's connected mailbox used for reply detection
type MailAccount struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	UserID               string     `gorm:"column:user_id;uniqueIndex"`
	ProviderID           string     `gorm:"column:provider_id"`
	EmailAddress         *string    `gorm:"column:email_address"`
	AccessToken          *string    `gorm:"column:access_token"`
	RefreshToken         *string    `gorm:"column:refresh_token"`
	AccessTokenExpiresAt *time.Time `gorm:"column:access_token_expires_at"`
	Scope                *string    `gorm:"column:scope"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (MailAccount) TableName() string {
	return "mail_account"
}

// Connected reports whether the account holds usable credentials
func (a *MailAccount) Connected() bool {
	return a != nil && a.RefreshToken != nil && *a.RefreshToken != ""
}

// TokenExpired reports whether the access token is missing or expires within 5 minutes
func (a *MailAccount) TokenExpired(now time.Time) bool {
	if a.AccessToken == nil || a.AccessTokenExpiresAt == nil {
		return true
	}
	return now.Add(5 * time.Minute).After(*a.AccessTokenExpiresAt)
}
