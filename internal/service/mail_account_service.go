package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

const connectStateTTL = 10 * time.Minute

// MailAccountStore persists mailbox credentials
type MailAccountStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.MailAccount, error)
	Upsert(ctx context.Context, account models.MailAccount) error
	UpdateTokens(ctx context.Context, userID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error
	Delete(ctx context.Context, userID string) error
}

// MailProvider is the mailbox API used for OAuth and reply detection
type MailProvider interface {
	ProviderID() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*TokenResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
	HasReplySince(ctx context.Context, accessToken string, query ReplyQuery) (bool, error)
}

type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	EmailAddress string
}

type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // May be same or new
}

// ReplyQuery identifies messages from a contact received after a send
type ReplyQuery struct {
	Email    string
	FullName string
	After    time.Time
}

type connectState struct {
	userID      string
	callbackURL string
	expiresAt   time.Time
}

type MailAccountService struct {
	accounts MailAccountStore
	provider MailProvider
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]connectState
}

func NewMailAccountService(accounts MailAccountStore, provider MailProvider) *MailAccountService {
	return &MailAccountService{
		accounts: accounts,
		provider: provider,
		now:      time.Now,
		pending:  make(map[string]connectState),
	}
}

// Status reports whether the user has a connected mailbox
func (s *MailAccountService) Status(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, apperr.Validation("user_id is required")
	}
	account, err := s.accounts.GetByUserID(ctx, userID)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return account.Connected(), nil
}

// Connected is Status for reply detection
func (s *MailAccountService) Connected(ctx context.Context, userID string) (bool, error) {
	return s.Status(ctx, userID)
}

// Connect starts the OAuth flow and returns the provider's consent URL
func (s *MailAccountService) Connect(ctx context.Context, userID, callbackURL string) (string, error) {
	if userID == "" {
		return "", apperr.Validation("user_id is required")
	}
	if s.provider == nil {
		return "", apperr.Validation("mail provider is not configured")
	}

	state, err := newState()
	if err != nil {
		return "", fmt.Errorf("failed to create oauth state: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	for k, st := range s.pending {
		if now.After(st.expiresAt) {
			delete(s.pending, k)
		}
	}
	s.pending[state] = connectState{userID: userID, callbackURL: callbackURL, expiresAt: now.Add(connectStateTTL)}
	s.mu.Unlock()

	return s.provider.AuthCodeURL(state), nil
}

// Callback completes the OAuth flow and stores the tokens. It returns the
// callback URL given to Connect.
func (s *MailAccountService) Callback(ctx context.Context, code, state string) (string, error) {
	if code == "" || state == "" {
		return "", apperr.Validation("code and state are required")
	}
	if s.provider == nil {
		return "", apperr.Validation("mail provider is not configured")
	}

	s.mu.Lock()
	st, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok || s.now().After(st.expiresAt) {
		return "", apperr.Validation("unknown or expired oauth state")
	}

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return "", apperr.Transient(err, "failed to exchange authorization code")
	}

	account := models.MailAccount{
		UserID:               st.userID,
		ProviderID:           s.provider.ProviderID(),
		AccessToken:          &token.AccessToken,
		RefreshToken:         &token.RefreshToken,
		AccessTokenExpiresAt: &token.ExpiresAt,
		Scope:                stringPtr(token.Scope),
		EmailAddress:         stringPtr(token.EmailAddress),
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return "", err
	}

	log.Printf("Connected mailbox for user %s", st.userID)
	return st.callbackURL, nil
}

// Disconnect forgets the user's mailbox credentials
func (s *MailAccountService) Disconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.Validation("user_id is required")
	}
	if err := s.accounts.Delete(ctx, userID); err != nil {
		return err
	}
	log.Printf("Disconnected mailbox for user %s", userID)
	return nil
}

// AccessToken returns a usable access token, refreshing it when it expires
// within 5 minutes
func (s *MailAccountService) AccessToken(ctx context.Context, userID string) (string, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}

	// Validate tokens exist
	if !account.Connected() {
		return "", apperr.Validation("mail account for user %s is missing tokens", userID)
	}

	if !account.TokenExpired(s.now()) {
		return *account.AccessToken, nil
	}
	if s.provider == nil {
		return "", apperr.Validation("mail provider is not configured")
	}

	log.Printf("Access token expired for user %s, refreshing...", userID)
	result, err := s.provider.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil {
		return "", apperr.Transient(err, "failed to refresh token")
	}

	// Update account with new tokens
	if err := s.accounts.UpdateTokens(ctx, userID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to update tokens in database: %w", err)
	}

	log.Printf("Token refreshed for user %s, expires at %s", userID, result.ExpiresAt)
	return result.AccessToken, nil
}

// HasReplySince asks the mailbox whether contact wrote back after since
func (s *MailAccountService) HasReplySince(ctx context.Context, userID string, contact models.Contact, since time.Time) (bool, error) {
	if s.provider == nil {
		return false, apperr.Validation("mail provider is not configured")
	}
	token, err := s.AccessToken(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.provider.HasReplySince(ctx, token, ReplyQuery{
		Email:    deref(contact.Email),
		FullName: contact.FullName,
		After:    since,
	})
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
