package client

import (
	"context"
	"sync"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

// SendAPI records sends on the server
type SendAPI interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
}

type SendOutcome struct {
	OutreachID    string
	FeedbackDueAt time.Time
	AlreadySent   bool // another submission for this contact won
}

// Sender collapses duplicate sends for the same contact. The server remains
// the authority; this only spares it the obvious repeats.
type Sender struct {
	api SendAPI

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewSender(api SendAPI) *Sender {
	return &Sender{api: api, inFlight: make(map[string]struct{})}
}

// Send marks the contact's draft as sent. A duplicate submission is not an
// error: it reports AlreadySent.
func (s *Sender) Send(ctx context.Context, req service.SendRequest) (*SendOutcome, error) {
	s.mu.Lock()
	if _, busy := s.inFlight[req.ContactID]; busy {
		s.mu.Unlock()
		return &SendOutcome{AlreadySent: true}, nil
	}
	s.inFlight[req.ContactID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, req.ContactID)
		s.mu.Unlock()
	}()

	result, err := s.api.Send(ctx, req)
	if apperr.Is(err, apperr.CodeAlreadySent) {
		return &SendOutcome{AlreadySent: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &SendOutcome{OutreachID: result.OutreachID, FeedbackDueAt: result.FeedbackDueAt}, nil
}
