package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/events"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OutreachContactStore reads and archives contacts
type OutreachContactStore interface {
	GetByID(ctx context.Context, userID, contactID string) (*models.Contact, error)
	List(ctx context.Context, userID string, limit, offset int) ([]models.Contact, int64, error)
	ListDrafts(ctx context.Context, userID string, limit, offset int) ([]models.Contact, int64, error)
	Archive(ctx context.Context, userID, contactID string) (bool, error)
}

// AttemptWriter records sends
type AttemptWriter interface {
	CreateWithSend(ctx context.Context, userID string, attempt models.OutreachAttempt) (bool, error)
}

type SendRequest struct {
	UserID      string
	ContactID   string
	MessageBody string
	StrategyTag models.StrategyTag
}

type SendResult struct {
	OutreachID    string    `json:"outreach_id"`
	FeedbackDueAt time.Time `json:"feedback_due_at"`
}

type ContactItem struct {
	ID          string               `json:"id"`
	FullName    string               `json:"full_name"`
	RawRole     string               `json:"raw_role"`
	CompanyName string               `json:"company_name"`
	LinkedInURL string               `json:"linkedin_url"`
	Status      models.ContactStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
}

type ContactPage struct {
	Contacts []ContactItem `json:"contacts"`
	Total    int64         `json:"total"`
	HasMore  bool          `json:"has_more"`
}

// ResearchView exposes research fields; each may be empty
type ResearchView struct {
	NewsSummary string `json:"news_summary"`
	PainPoints  string `json:"pain_points"`
	SourceURL   string `json:"source_url"`
}

type DraftItem struct {
	ContactID    string             `json:"contact_id"`
	FullName     string             `json:"full_name"`
	RawRole      string             `json:"raw_role"`
	CompanyName  string             `json:"company_name"`
	LinkedInURL  string             `json:"linkedin_url"`
	DraftMessage string             `json:"draft_message"`
	StrategyTag  models.StrategyTag `json:"strategy_tag"`
	Research     ResearchView       `json:"research"`
}

type DraftPage struct {
	Drafts  []DraftItem `json:"drafts"`
	Total   int64       `json:"total"`
	HasMore bool        `json:"has_more"`
}

type OutreachService struct {
	contacts  OutreachContactStore
	attempts  AttemptWriter
	publisher events.Publisher
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewOutreachService(contacts OutreachContactStore, attempts AttemptWriter, publisher events.Publisher, cooldown time.Duration) *OutreachService {
	if cooldown <= 0 {
		cooldown = models.DefaultFeedbackCooldown
	}
	return &OutreachService{
		contacts:  contacts,
		attempts:  attempts,
		publisher: publisher,
		cooldown:  cooldown,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
	}
}

// Send records that the draft for a contact was sent. The contact moves from
// DRAFT_READY to SENT and a PENDING attempt is created, both or neither.
func (s *OutreachService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.UserID == "" || req.ContactID == "" {
		return nil, apperr.Validation("user_id and contact_id are required")
	}
	body := strings.TrimSpace(req.MessageBody)

	sentAt := s.now().UTC()
	attempt, err := models.NewOutreachAttempt(req.ContactID, req.StrategyTag, body, sentAt, s.cooldown)
	if err != nil {
		return nil, err
	}

	if !s.acquire(req.ContactID) {
		return nil, apperr.Conflict(apperr.CodeAlreadySent, "send already in progress for contact %s", req.ContactID)
	}
	defer s.release(req.ContactID)

	applied, err := s.attempts.CreateWithSend(ctx, req.UserID, *attempt)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, s.sendRejection(ctx, req.UserID, req.ContactID)
	}

	log.Printf("Contact %s sent with strategy %s, feedback due %s", req.ContactID, attempt.StrategyTag, attempt.FeedbackDueAt.Format(time.RFC3339))

	events.Emit(ctx, s.publisher, events.OutreachSent, map[string]interface{}{
		"outreach_id":     attempt.ID,
		"contact_id":      attempt.ContactID,
		"user_id":         req.UserID,
		"strategy_tag":    attempt.StrategyTag,
		"sent_at":         attempt.SentAt,
		"feedback_due_at": attempt.FeedbackDueAt,
	})

	return &SendResult{OutreachID: attempt.ID, FeedbackDueAt: attempt.FeedbackDueAt}, nil
}

// sendRejection explains why the guarded send did not apply
func (s *OutreachService) sendRejection(ctx context.Context, userID, contactID string) error {
	contact, err := s.contacts.GetByID(ctx, userID, contactID)
	if err != nil {
		return err
	}
	switch contact.Status {
	case models.ContactStatusSent, models.ContactStatusDraftReady:
		// DRAFT_READY here means a concurrent send won the pending-attempt index
		return apperr.Conflict(apperr.CodeAlreadySent, "contact %s was already sent", contactID)
	default:
		return apperr.Validation("contact %s is %s, only DRAFT_READY contacts can be sent", contactID, contact.Status)
	}
}

func (s *OutreachService) acquire(contactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[contactID]; busy {
		return false
	}
	s.inFlight[contactID] = struct{}{}
	return true
}

func (s *OutreachService) release(contactID string) {
	s.mu.Lock()
	delete(s.inFlight, contactID)
	s.mu.Unlock()
}

// Archive removes a contact from every active flow
func (s *OutreachService) Archive(ctx context.Context, userID, contactID string) error {
	if userID == "" || contactID == "" {
		return apperr.Validation("user_id and contact_id are required")
	}

	applied, err := s.contacts.Archive(ctx, userID, contactID)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("Archived contact %s", contactID)
		return nil
	}

	contact, err := s.contacts.GetByID(ctx, userID, contactID)
	if err != nil {
		return err
	}
	if contact.Status == models.ContactStatusArchived {
		return apperr.Conflict(apperr.CodeAlreadyArchived, "contact %s is already archived", contactID)
	}
	return fmt.Errorf("failed to archive contact %s in status %s", contactID, contact.Status)
}

// ListContacts returns a page of non-archived contacts in import order
func (s *OutreachService) ListContacts(ctx context.Context, userID string, limit, offset int) (*ContactPage, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	limit, offset = clampPage(limit, offset)

	contacts, total, err := s.contacts.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &ContactPage{
		Contacts: make([]ContactItem, 0, len(contacts)),
		Total:    total,
		HasMore:  int64(offset+len(contacts)) < total,
	}
	for _, c := range contacts {
		page.Contacts = append(page.Contacts, ContactItem{
			ID:          c.ID,
			FullName:    c.FullName,
			RawRole:     c.RawRole,
			CompanyName: c.CompanyName,
			LinkedInURL: c.LinkedInURL,
			Status:      c.Status,
			CreatedAt:   c.CreatedAt,
		})
	}
	return page, nil
}

// ListDrafts returns a page of DRAFT_READY contacts with their research
func (s *OutreachService) ListDrafts(ctx context.Context, userID string, limit, offset int) (*DraftPage, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	limit, offset = clampPage(limit, offset)

	contacts, total, err := s.contacts.ListDrafts(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &DraftPage{
		Drafts:  make([]DraftItem, 0, len(contacts)),
		Total:   total,
		HasMore: int64(offset+len(contacts)) < total,
	}
	for _, c := range contacts {
		item := DraftItem{
			ContactID:    c.ID,
			FullName:     c.FullName,
			RawRole:      c.RawRole,
			CompanyName:  c.CompanyName,
			LinkedInURL:  c.LinkedInURL,
			DraftMessage: deref(c.DraftMessage),
		}
		if c.StrategyTag != nil {
			item.StrategyTag = *c.StrategyTag
		}
		if c.Research != nil {
			item.Research = ResearchView{
				NewsSummary: deref(c.Research.NewsSummary),
				PainPoints:  deref(c.Research.PainPoints),
				SourceURL:   deref(c.Research.SourceURL),
			}
		}
		page.Drafts = append(page.Drafts, item)
	}
	return page, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
