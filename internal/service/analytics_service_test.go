package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

func TestAnalyticsService_Dashboard(t *testing.T) {
	store := newMemStore()
	svc := NewAnalyticsService(store.attemptRepo())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	record := func(name string, tag models.StrategyTag, day int, outcome models.Outcome) {
		id := store.addContact("user-1", name, models.ContactStatusSent)
		attemptID := store.addAttempt(id, tag, base.Add(time.Duration(day)*24*time.Hour))
		if outcome != "" {
			ok, err := store.attemptRepo().CompletePending(ctx, "user-1", attemptID, outcome, base)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}

	record("Ann", models.StrategyPainPoint, 0, models.OutcomeReplied)
	record("Ben", models.StrategyPainPoint, 1, models.OutcomeGhosted)
	record("Cal", models.StrategyPainPoint, 2, models.OutcomeGhosted)
	record("Dan", models.StrategyPainPoint, 3, "")
	record("Eve", models.StrategyIndustryTrend, 4, models.OutcomeBounced)
	record("Fay", models.StrategyValidationAsk, 5, models.OutcomeReplied)

	d, err := svc.Dashboard(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 6, d.TotalSent)
	assert.Equal(t, 5, d.TotalCompleted)
	assert.Equal(t, 2, d.TotalReplied)
	assert.Equal(t, 40.0, d.GlobalReplyRate)

	require.Len(t, d.ByStrategy, 3)
	assert.Equal(t, models.StrategyPainPoint, d.ByStrategy[0].StrategyTag)
	assert.Equal(t, models.StrategyValidationAsk, d.ByStrategy[1].StrategyTag)
	assert.Equal(t, models.StrategyIndustryTrend, d.ByStrategy[2].StrategyTag)

	pain := d.ByStrategy[0]
	assert.Equal(t, 4, pain.Sent)
	assert.Equal(t, 3, pain.Completed)
	assert.Equal(t, 1, pain.Replied)
	assert.Equal(t, 33.3, pain.ReplyRate)
	require.Len(t, pain.RepliedMessages, 1)
	assert.Equal(t, "Ann", pain.RepliedMessages[0].FullName)

	assert.Equal(t, 0.0, d.ByStrategy[2].ReplyRate)
	assert.Empty(t, d.ByStrategy[2].RepliedMessages)
}

func TestAnalyticsService_Dashboard_Empty(t *testing.T) {
	svc := NewAnalyticsService(newMemStore().attemptRepo())

	d, err := svc.Dashboard(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, d.TotalSent)
	assert.Equal(t, 0.0, d.GlobalReplyRate)
	assert.NotNil(t, d.ByStrategy)
	assert.Empty(t, d.ByStrategy)
}
