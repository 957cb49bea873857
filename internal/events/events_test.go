package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Envelope(t *testing.T) {
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	body, err := Marshal(OutreachSent, map[string]string{"outreach_id": "o-1"}, at)
	require.NoError(t, err)

	var decoded struct {
		Event      string            `json:"event"`
		OccurredAt time.Time         `json:"occurred_at"`
		Payload    map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "outreach.sent", decoded.Event)
	assert.True(t, decoded.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, decoded.OccurredAt.Location())
	assert.Equal(t, "o-1", decoded.Payload["outreach_id"])
}

func TestMarshal_Unencodable(t *testing.T) {
	_, err := Marshal(FeedbackRecorded, make(chan int), time.Now())
	assert.Error(t, err)
}

type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	f.calls++
	return errors.New("broker down")
}

func TestEmit_SwallowsErrors(t *testing.T) {
	p := &failingPublisher{}
	Emit(context.Background(), p, EnrichmentJobFailed, nil)
	assert.Equal(t, 1, p.calls)

	Emit(context.Background(), nil, EnrichmentJobFailed, nil)
}

func TestLogPublisher(t *testing.T) {
	err := LogPublisher{}.Publish(context.Background(), EnrichmentJobCompleted, map[string]int{"total": 3})
	assert.NoError(t, err)
}
