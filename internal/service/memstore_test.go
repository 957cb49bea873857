package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
)

// memStore is an in-memory stand-in for the Postgres repositories. It applies
// the same guarded updates so service classification can be tested.
type memStore struct {
	mu       sync.Mutex
	contacts map[string]*models.Contact
	order    []string
	attempts map[string]*models.OutreachAttempt
	jobs     map[string]*models.EnrichmentJob
	accounts map[string]*models.MailAccount

	claimErr  error
	saveErr   error
	sendErr   error
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		contacts: make(map[string]*models.Contact),
		attempts: make(map[string]*models.OutreachAttempt),
		jobs:     make(map[string]*models.EnrichmentJob),
		accounts: make(map[string]*models.MailAccount),
	}
}

func (m *memStore) contactRepo() *memContacts { return &memContacts{m} }
func (m *memStore) attemptRepo() *memAttempts { return &memAttempts{m} }
func (m *memStore) jobRepo() *memJobs         { return &memJobs{m} }
func (m *memStore) accountRepo() *memAccounts { return &memAccounts{m} }

// addContact seeds a contact and returns its ID
func (m *memStore) addContact(userID, name string, status models.ContactStatus) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.contacts[id] = &models.Contact{
		ID:          id,
		UserID:      userID,
		FullName:    name,
		CompanyName: name + " Inc",
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.order = append(m.order, id)
	return id
}

func (m *memStore) contact(id string) models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.contacts[id]
}

func (m *memStore) job(id string) models.EnrichmentJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) attempt(id string) models.OutreachAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.attempts[id]
}

// addAttempt seeds a pending attempt for a SENT contact
func (m *memStore) addAttempt(contactID string, tag models.StrategyTag, sentAt time.Time) string {
	a, err := models.NewOutreachAttempt(contactID, tag, "Hello from the test suite", sentAt, models.DefaultFeedbackCooldown)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = a
	return a.ID
}

type memContacts struct{ m *memStore }

func (r *memContacts) ExistingKeys(ctx context.Context, userID string) (map[string]struct{}, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	keys := make(map[string]struct{})
	for _, c := range r.m.contacts {
		if c.UserID == userID && c.DedupeKey != "" {
			keys[c.DedupeKey] = struct{}{}
		}
	}
	return keys, nil
}

func (r *memContacts) CreateWithJob(ctx context.Context, job models.EnrichmentJob, contacts []models.Contact) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.createErr != nil {
		return r.m.createErr
	}
	r.m.jobs[job.ID] = &job
	for i := range contacts {
		c := contacts[i]
		r.m.contacts[c.ID] = &c
		r.m.order = append(r.m.order, c.ID)
	}
	return nil
}

func (r *memContacts) GetByID(ctx context.Context, userID, contactID string) (*models.Contact, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.contacts[contactID]
	if !ok || c.UserID != userID {
		return nil, apperr.NotFound("contact", contactID)
	}
	cp := *c
	return &cp, nil
}

func (r *memContacts) page(userID string, keep func(*models.Contact) bool, limit, offset int) ([]models.Contact, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []models.Contact
	for _, id := range r.m.order {
		c := r.m.contacts[id]
		if c.UserID == userID && keep(c) {
			all = append(all, *c)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *memContacts) List(ctx context.Context, userID string, limit, offset int) ([]models.Contact, int64, error) {
	return r.page(userID, func(c *models.Contact) bool { return c.Status != models.ContactStatusArchived }, limit, offset)
}

func (r *memContacts) ListDrafts(ctx context.Context, userID string, limit, offset int) ([]models.Contact, int64, error) {
	return r.page(userID, func(c *models.Contact) bool { return c.Status == models.ContactStatusDraftReady }, limit, offset)
}

func (r *memContacts) Archive(ctx context.Context, userID, contactID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.contacts[contactID]
	if !ok || c.UserID != userID || c.Status == models.ContactStatusArchived {
		return false, nil
	}
	c.Status = models.ContactStatusArchived
	return true, nil
}

func (r *memContacts) ClaimForResearch(ctx context.Context, jobID string, limit int) ([]models.Contact, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.claimErr != nil {
		return nil, r.m.claimErr
	}
	var claimed []models.Contact
	for _, id := range r.m.order {
		c := r.m.contacts[id]
		if len(claimed) == limit {
			break
		}
		if c.EnrichmentJobID != nil && *c.EnrichmentJobID == jobID && c.Status == models.ContactStatusNew {
			c.Status = models.ContactStatusResearching
			c.UpdatedAt = time.Now()
			claimed = append(claimed, *c)
		}
	}
	return claimed, nil
}

func (r *memContacts) SaveDraft(ctx context.Context, contactID string, research models.Research, draft string, tag models.StrategyTag) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.saveErr != nil {
		return false, r.m.saveErr
	}
	c := r.m.contacts[contactID]
	if c.Status != models.ContactStatusResearching {
		return false, nil
	}
	research.ContactID = contactID
	c.Status = models.ContactStatusDraftReady
	c.DraftMessage = &draft
	c.StrategyTag = &tag
	c.Research = &research
	return true, nil
}

func (r *memContacts) ReleaseFailed(ctx context.Context, contactID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := r.m.contacts[contactID]
	if c.Status == models.ContactStatusResearching {
		c.Status = models.ContactStatusNew
		c.EnrichmentJobID = nil
	}
	return nil
}

func (r *memContacts) Requeue(ctx context.Context, contactID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := r.m.contacts[contactID]
	if c.Status == models.ContactStatusResearching {
		c.Status = models.ContactStatusNew
	}
	return nil
}

func (r *memContacts) ReleaseJob(ctx context.Context, jobID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.contacts {
		if c.EnrichmentJobID != nil && *c.EnrichmentJobID == jobID &&
			(c.Status == models.ContactStatusNew || c.Status == models.ContactStatusResearching) {
			c.Status = models.ContactStatusNew
			c.EnrichmentJobID = nil
			n++
		}
	}
	return n, nil
}

func (r *memContacts) ResetStuck(ctx context.Context, staleBefore time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.contacts {
		if c.Status == models.ContactStatusResearching && c.UpdatedAt.Before(staleBefore) {
			c.Status = models.ContactStatusNew
			n++
		}
	}
	return n, nil
}

func (r *memContacts) CountOpen(ctx context.Context, jobID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.contacts {
		if c.EnrichmentJobID != nil && *c.EnrichmentJobID == jobID &&
			(c.Status == models.ContactStatusNew || c.Status == models.ContactStatusResearching) {
			n++
		}
	}
	return n, nil
}

type memAttempts struct{ m *memStore }

func (r *memAttempts) CreateWithSend(ctx context.Context, userID string, attempt models.OutreachAttempt) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.sendErr != nil {
		return false, r.m.sendErr
	}
	c, ok := r.m.contacts[attempt.ContactID]
	if !ok || c.UserID != userID || c.Status != models.ContactStatusDraftReady {
		return false, nil
	}
	for _, a := range r.m.attempts {
		if a.ContactID == attempt.ContactID && a.FeedbackStatus == models.FeedbackPending {
			return false, nil
		}
	}
	c.Status = models.ContactStatusSent
	r.m.attempts[attempt.ID] = &attempt
	return true, nil
}

func (r *memAttempts) owned(userID, outreachID string) (*models.OutreachAttempt, bool) {
	a, ok := r.m.attempts[outreachID]
	if !ok {
		return nil, false
	}
	c, ok := r.m.contacts[a.ContactID]
	if !ok || c.UserID != userID {
		return nil, false
	}
	return a, true
}

func (r *memAttempts) GetByID(ctx context.Context, userID, outreachID string) (*models.OutreachAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.owned(userID, outreachID)
	if !ok {
		return nil, apperr.NotFound("outreach attempt", outreachID)
	}
	cp := *a
	return &cp, nil
}

func (r *memAttempts) CompletePending(ctx context.Context, userID, outreachID string, outcome models.Outcome, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.owned(userID, outreachID)
	if !ok {
		return false, nil
	}
	if err := a.Complete(outcome, at); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *memAttempts) ListActionable(ctx context.Context, userID string, now time.Time) ([]models.OutreachAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.OutreachAttempt
	for _, a := range r.m.attempts {
		c := r.m.contacts[a.ContactID]
		if c.UserID != userID || c.Status == models.ContactStatusArchived || !models.IsActionable(*a, now) {
			continue
		}
		cp := *a
		contact := *c
		cp.Contact = &contact
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FeedbackDueAt.Equal(out[j].FeedbackDueAt) {
			return out[i].FeedbackDueAt.Before(out[j].FeedbackDueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memAttempts) ListByUser(ctx context.Context, userID string) ([]models.OutreachAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.OutreachAttempt
	for _, a := range r.m.attempts {
		c := r.m.contacts[a.ContactID]
		if c.UserID != userID {
			continue
		}
		cp := *a
		contact := *c
		cp.Contact = &contact
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

type memJobs struct{ m *memStore }

func (r *memJobs) Create(ctx context.Context, job models.EnrichmentJob) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.jobs[job.ID] = &job
	return nil
}

func (r *memJobs) GetByID(ctx context.Context, userID, jobID string) (*models.EnrichmentJob, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j, ok := r.m.jobs[jobID]
	if !ok || j.UserID != userID {
		return nil, apperr.NotFound("enrichment job", jobID)
	}
	cp := *j
	return &cp, nil
}

func (r *memJobs) GetRunning(ctx context.Context, limit int) ([]models.EnrichmentJob, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.EnrichmentJob
	for _, j := range r.m.jobs {
		if j.Status == models.JobStatusRunning && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *memJobs) increment(jobID string, failed bool) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j := r.m.jobs[jobID]
	if j.Status != models.JobStatusRunning || j.Remaining() <= 0 {
		return false, nil
	}
	if failed {
		j.FailedCount++
	} else {
		j.ProcessedCount++
	}
	return true, nil
}

func (r *memJobs) IncrementProcessed(ctx context.Context, jobID string) (bool, error) {
	return r.increment(jobID, false)
}

func (r *memJobs) IncrementFailed(ctx context.Context, jobID string) (bool, error) {
	return r.increment(jobID, true)
}

func (r *memJobs) CompleteIfDone(ctx context.Context, jobID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j := r.m.jobs[jobID]
	if j.Status != models.JobStatusRunning || j.Remaining() > 0 {
		return false, nil
	}
	now := time.Now()
	j.Status = models.JobStatusCompleted
	j.CompletedAt = &now
	return true, nil
}

func (r *memJobs) Settle(ctx context.Context, jobID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j := r.m.jobs[jobID]
	if j.Status != models.JobStatusRunning {
		return false, nil
	}
	attached := 0
	for _, c := range r.m.contacts {
		if c.EnrichmentJobID == nil || *c.EnrichmentJobID != jobID {
			continue
		}
		if c.Status == models.ContactStatusNew || c.Status == models.ContactStatusResearching {
			return false, nil
		}
		attached++
	}
	if attached+j.FailedCount != j.TotalContacts {
		return false, nil
	}
	now := time.Now()
	j.ProcessedCount = attached
	j.Status = models.JobStatusCompleted
	j.CompletedAt = &now
	return true, nil
}

func (r *memJobs) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j := r.m.jobs[jobID]
	if j.Status == models.JobStatusRunning {
		j.Status = models.JobStatusFailed
		j.LastError = &lastError
	}
	return nil
}

func (r *memJobs) IncrementAttempts(ctx context.Context, jobID string, lastError string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j := r.m.jobs[jobID]
	j.Attempts++
	j.LastError = &lastError
	return j.Attempts, nil
}

func (r *memJobs) ResetAttempts(ctx context.Context, jobID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j := r.m.jobs[jobID]
	j.Attempts = 0
	j.LastError = nil
	return nil
}

type memAccounts struct{ m *memStore }

func (r *memAccounts) GetByUserID(ctx context.Context, userID string) (*models.MailAccount, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.accounts[userID]
	if !ok {
		return nil, apperr.NotFound("mail account", userID)
	}
	cp := *a
	return &cp, nil
}

func (r *memAccounts) Upsert(ctx context.Context, account models.MailAccount) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.accounts[account.UserID] = &account
	return nil
}

func (r *memAccounts) UpdateTokens(ctx context.Context, userID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.accounts[userID]
	if !ok {
		return nil
	}
	a.AccessToken = &accessToken
	a.RefreshToken = &refreshToken
	a.AccessTokenExpiresAt = &accessTokenExpiresAt
	return nil
}

func (r *memAccounts) Delete(ctx context.Context, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.accounts, userID)
	return nil
}

// recordingPublisher captures emitted events
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
