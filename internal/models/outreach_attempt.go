package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
)

// DefaultFeedbackCooldown is how long after sending an attempt waits before it
// enters the feedback queue.
const DefaultFeedbackCooldown = 3 * 24 * time.Hour

// PreviewLength is the number of runes shown in feedback queue previews
const PreviewLength = 120

type StrategyTag string

const (
	StrategyPainPoint        StrategyTag = "PAIN_POINT"
	StrategyValidationAsk    StrategyTag = "VALIDATION_ASK"
	StrategyDirectPitch      StrategyTag = "DIRECT_PITCH"
	StrategyMutualConnection StrategyTag = "MUTUAL_CONNECTION"
	StrategyIndustryTrend    StrategyTag = "INDUSTRY_TREND"
)

// StrategyTags lists every tag in reporting order
var StrategyTags = []StrategyTag{
	StrategyPainPoint,
	StrategyValidationAsk,
	StrategyDirectPitch,
	StrategyMutualConnection,
	StrategyIndustryTrend,
}

func (t StrategyTag) Valid() bool {
	for _, known := range StrategyTags {
		if t == known {
			return true
		}
	}
	return false
}

type FeedbackStatus string

const (
	FeedbackPending   FeedbackStatus = "PENDING"
	FeedbackCompleted FeedbackStatus = "COMPLETED"
)

type Outcome string

const (
	OutcomeReplied Outcome = "REPLIED"
	OutcomeGhosted Outcome = "GHOSTED"
	OutcomeBounced Outcome = "BOUNCED"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeReplied, OutcomeGhosted, OutcomeBounced:
		return true
	}
	return false
}

// OutreachAttempt records one sent message and its eventual outcome.
// Outcome is nil while PENDING and set exactly once on completion.
type OutreachAttempt struct {
	ID             string         `gorm:"column:id;primaryKey"`
	ContactID      string         `gorm:"column:contact_id;index"`
	StrategyTag    StrategyTag    `gorm:"column:strategy_tag"`
	MessageBody    string         `gorm:"column:message_body"`
	SentAt         time.Time      `gorm:"column:sent_at"`
	FeedbackDueAt  time.Time      `gorm:"column:feedback_due_at;index"`
	FeedbackStatus FeedbackStatus `gorm:"column:feedback_status;index"`
	Outcome        *Outcome       `gorm:"column:outcome"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`

	Contact *Contact `gorm:"foreignKey:ContactID"`
}

// TableName specifies the table name for GORM
func (OutreachAttempt) TableName() string {
	return "outreach_attempts"
}

// NewOutreachAttempt builds a PENDING attempt due for feedback after cooldown
func NewOutreachAttempt(contactID string, tag StrategyTag, body string, sentAt time.Time, cooldown time.Duration) (*OutreachAttempt, error) {
	if cooldown <= 0 {
		cooldown = DefaultFeedbackCooldown
	}
	a := &OutreachAttempt{
		ID:             uuid.New().String(),
		ContactID:      contactID,
		StrategyTag:    tag,
		MessageBody:    body,
		SentAt:         sentAt,
		FeedbackDueAt:  sentAt.Add(cooldown),
		FeedbackStatus: FeedbackPending,
	}
	if err := a.Validate(cooldown); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the attempt's invariants. The feedback due date must be
// exactly cooldown after the send; a non-positive cooldown means the default.
func (a *OutreachAttempt) Validate(cooldown time.Duration) error {
	if cooldown <= 0 {
		cooldown = DefaultFeedbackCooldown
	}
	if a.ContactID == "" {
		return apperr.Validation("outreach attempt requires a contact")
	}
	if strings.TrimSpace(a.MessageBody) == "" {
		return apperr.Validation("message body cannot be empty")
	}
	if !a.StrategyTag.Valid() {
		return apperr.Validation("unknown strategy tag %q", a.StrategyTag)
	}
	if !a.FeedbackDueAt.Equal(a.SentAt.Add(cooldown)) {
		return apperr.Validation("feedback due %s is not %s after sent %s", a.FeedbackDueAt, cooldown, a.SentAt)
	}

	switch a.FeedbackStatus {
	case FeedbackPending:
		if a.Outcome != nil {
			return apperr.Validation("outcome must be empty while feedback is pending")
		}
	case FeedbackCompleted:
		if a.Outcome == nil {
			return apperr.Validation("completed attempt requires an outcome")
		}
		if !a.Outcome.Valid() {
			return apperr.Validation("unknown outcome %q", *a.Outcome)
		}
	default:
		return apperr.Validation("unknown feedback status %q", a.FeedbackStatus)
	}
	return nil
}

// Complete resolves a pending attempt. A completed attempt keeps its outcome.
func (a *OutreachAttempt) Complete(outcome Outcome, at time.Time) error {
	if !outcome.Valid() {
		return apperr.Validation("unknown outcome %q", outcome)
	}
	if a.FeedbackStatus == FeedbackCompleted {
		return apperr.Conflict(apperr.CodeAlreadyRecorded, "outcome already recorded for outreach %s", a.ID)
	}
	a.FeedbackStatus = FeedbackCompleted
	a.Outcome = &outcome
	a.CompletedAt = &at
	return nil
}

// IsActionable reports whether the attempt belongs in the feedback queue at now
func IsActionable(a OutreachAttempt, now time.Time) bool {
	return a.FeedbackStatus == FeedbackPending && !a.FeedbackDueAt.After(now)
}

// MessagePreview truncates body to PreviewLength runes
func MessagePreview(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= PreviewLength {
		return body
	}
	return string([]rune(body)[:PreviewLength])
}
