package service

import (
	"context"
	"math"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

// AttemptHistory lists a user's attempts with their contacts
type AttemptHistory interface {
	ListByUser(ctx context.Context, userID string) ([]models.OutreachAttempt, error)
}

type RepliedMessage struct {
	FullName    string    `json:"full_name"`
	CompanyName string    `json:"company_name"`
	MessageBody string    `json:"message_body"`
	SentAt      time.Time `json:"sent_at"`
}

type StrategyStats struct {
	StrategyTag     models.StrategyTag `json:"strategy_tag"`
	Sent            int                `json:"sent"`
	Completed       int                `json:"completed"`
	Replied         int                `json:"replied"`
	ReplyRate       float64            `json:"reply_rate"`
	RepliedMessages []RepliedMessage   `json:"replied_messages"`
}

type Dashboard struct {
	TotalSent       int             `json:"total_sent"`
	TotalCompleted  int             `json:"total_completed"`
	TotalReplied    int             `json:"total_replied"`
	GlobalReplyRate float64         `json:"global_reply_rate"`
	ByStrategy      []StrategyStats `json:"by_strategy"`
}

type AnalyticsService struct {
	attempts AttemptHistory
}

func NewAnalyticsService(attempts AttemptHistory) *AnalyticsService {
	return &AnalyticsService{attempts: attempts}
}

// Dashboard aggregates reply rates overall and per strategy. Rates are the
// share of completed attempts that were replied to.
func (s *AnalyticsService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}

	attempts, err := s.attempts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byTag := make(map[models.StrategyTag]*StrategyStats)
	d := &Dashboard{ByStrategy: []StrategyStats{}}
	for _, a := range attempts {
		st, ok := byTag[a.StrategyTag]
		if !ok {
			st = &StrategyStats{StrategyTag: a.StrategyTag, RepliedMessages: []RepliedMessage{}}
			byTag[a.StrategyTag] = st
		}

		d.TotalSent++
		st.Sent++
		if a.FeedbackStatus != models.FeedbackCompleted {
			continue
		}
		d.TotalCompleted++
		st.Completed++
		if a.Outcome == nil || *a.Outcome != models.OutcomeReplied {
			continue
		}

		d.TotalReplied++
		st.Replied++
		msg := RepliedMessage{MessageBody: a.MessageBody, SentAt: a.SentAt}
		if a.Contact != nil {
			msg.FullName = a.Contact.FullName
			msg.CompanyName = a.Contact.CompanyName
		}
		st.RepliedMessages = append(st.RepliedMessages, msg)
	}

	d.GlobalReplyRate = replyRate(d.TotalReplied, d.TotalCompleted)
	for _, tag := range models.StrategyTags {
		st, ok := byTag[tag]
		if !ok {
			continue
		}
		st.ReplyRate = replyRate(st.Replied, st.Completed)
		d.ByStrategy = append(d.ByStrategy, *st)
	}
	return d, nil
}

// replyRate is a percentage rounded to one decimal
func replyRate(replied, completed int) float64 {
	if completed == 0 {
		return 0
	}
	return math.Round(float64(replied)*1000/float64(completed)) / 10
}
