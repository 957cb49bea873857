package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxHeaderScan = 10 // LinkedIn exports start with a few lines of notes

// IngestContactStore stores imported contacts together with their job
type IngestContactStore interface {
	ExistingKeys(ctx context.Context, userID string) (map[string]struct{}, error)
	CreateWithJob(ctx context.Context, job models.EnrichmentJob, contacts []models.Contact) error
}

// UploadResult summarizes one CSV import
type UploadResult struct {
	ContactsCreated int    `json:"contacts_created"`
	ContactsSkipped int    `json:"contacts_skipped"`
	JobID           string `json:"job_id"`
	Message         string `json:"message"`
}

type Ingestor struct {
	contacts IngestContactStore
	tracker  *JobTracker
	now      func() time.Time
}

func NewIngestor(contacts IngestContactStore, tracker *JobTracker) *Ingestor {
	return &Ingestor{contacts: contacts, tracker: tracker, now: time.Now}
}

// Upload imports contacts from a LinkedIn connections CSV and starts an
// enrichment job covering every contact created
func (i *Ingestor) Upload(ctx context.Context, userID string, r io.Reader) (*UploadResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}

	rows, err := parseConnections(r)
	if err != nil {
		return nil, err
	}

	seen, err := i.contacts.ExistingKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing contacts: %w", err)
	}

	now := i.now().UTC()
	contacts := make([]models.Contact, 0, len(rows))
	skipped := 0
	for idx, row := range rows {
		if row.FullName == "" {
			skipped++
			continue
		}
		key := DedupeKey(row.FullName, row.Company, row.LinkedInURL)
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		seen[key] = struct{}{}

		c := models.Contact{
			ID:          uuid.New().String(),
			UserID:      userID,
			FullName:    row.FullName,
			RawRole:     row.Role,
			CompanyName: row.Company,
			LinkedInURL: row.LinkedInURL,
			Status:      models.ContactStatusNew,
			DedupeKey:   key,
			// Offset keeps file order stable under created_at ordering
			CreatedAt: now.Add(time.Duration(idx) * time.Microsecond),
			UpdatedAt: now,
		}
		if row.Email != "" {
			email := row.Email
			c.Email = &email
		}
		contacts = append(contacts, c)
	}

	job, err := i.tracker.NewJob(userID, len(contacts))
	if err != nil {
		return nil, err
	}

	for k := range contacts {
		contacts[k].EnrichmentJobID = &job.ID
	}
	if err := i.contacts.CreateWithJob(ctx, *job, contacts); err != nil {
		return nil, fmt.Errorf("failed to store contacts: %w", err)
	}

	log.Printf("Imported %d contacts for user %s (%d skipped), job %s", len(contacts), userID, skipped, job.ID)

	return &UploadResult{
		ContactsCreated: len(contacts),
		ContactsSkipped: skipped,
		JobID:           job.ID,
		Message:         fmt.Sprintf("Imported %d contacts, skipped %d", len(contacts), skipped),
	}, nil
}

type connectionRow struct {
	FullName    string
	Role        string
	Company     string
	LinkedInURL string
	Email       string
}

var headerAliases = map[string]string{
	"first name":    "first",
	"last name":     "last",
	"full name":     "full",
	"name":          "full",
	"url":           "url",
	"profile url":   "url",
	"linkedin url":  "url",
	"company":       "company",
	"company name":  "company",
	"position":      "role",
	"role":          "role",
	"title":         "role",
	"email address": "email",
	"email":         "email",
}

func parseConnections(r io.Reader) ([]connectionRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var columns map[string]int
	for line := 0; columns == nil; line++ {
		if line >= maxHeaderScan {
			return nil, apperr.Validation("CSV has no recognizable header row")
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("CSV is empty")
		}
		if err != nil {
			return nil, apperr.Validation("invalid CSV: %v", err)
		}
		columns = headerColumns(record)
	}

	var rows []connectionRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Validation("invalid CSV: %v", err)
		}

		get := func(field string) string {
			idx, ok := columns[field]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		name := get("full")
		if name == "" {
			name = strings.TrimSpace(get("first") + " " + get("last"))
		}
		rows = append(rows, connectionRow{
			FullName:    name,
			Role:        get("role"),
			Company:     get("company"),
			LinkedInURL: get("url"),
			Email:       get("email"),
		})
	}
	return rows, nil
}

// headerColumns maps known fields to column indexes, or nil when the record
// does not name a contact
func headerColumns(record []string) map[string]int {
	columns := make(map[string]int)
	for idx, cell := range record {
		cell = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		if field, ok := headerAliases[cell]; ok {
			if _, dup := columns[field]; !dup {
				columns[field] = idx
			}
		}
	}
	_, hasFull := columns["full"]
	_, hasFirst := columns["first"]
	if !hasFull && !hasFirst {
		return nil
	}
	return columns
}

// DedupeKey identifies a contact across imports: the normalized profile URL
// when present, otherwise the folded name and company
func DedupeKey(fullName, company, profileURL string) string {
	if u := normalizeProfileURL(profileURL); u != "" {
		return "url:" + u
	}
	return "name:" + fold(fullName) + "|" + fold(company)
}

func normalizeProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(strings.ToLower(u.Path), "/")
	return host + path
}

// fold lowercases, strips accents and collapses whitespace
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}
