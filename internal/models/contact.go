package models

import (
	"time"

	"gorm.io/datatypes"
)

type ContactStatus string

const (
	ContactStatusNew         ContactStatus = "NEW"
	ContactStatusResearching ContactStatus = "RESEARCHING"
	ContactStatusDraftReady  ContactStatus = "DRAFT_READY"
	ContactStatusSent        ContactStatus = "SENT"
	ContactStatusArchived    ContactStatus = "ARCHIVED"
)

// transitions is the contact lifecycle graph. ARCHIVED has no outgoing edges.
var transitions = map[ContactStatus][]ContactStatus{
	ContactStatusNew:         {ContactStatusResearching, ContactStatusArchived},
	ContactStatusResearching: {ContactStatusDraftReady, ContactStatusNew, ContactStatusArchived},
	ContactStatusDraftReady:  {ContactStatusSent, ContactStatusArchived},
	ContactStatusSent:        {ContactStatusArchived},
}

// Valid reports whether s is a known contact status
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusNew, ContactStatusResearching, ContactStatusDraftReady, ContactStatusSent, ContactStatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a contact may move from one status to another
func CanTransition(from, to ContactStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Actionable reports whether the draft lab or send flow exposes actions for s
func (s ContactStatus) Actionable() bool {
	return s == ContactStatusDraftReady || s == ContactStatusSent
}

// Contact is an imported person targeted for outreach
type Contact struct {
	ID              string        `gorm:"column:id;primaryKey"`
	UserID          string        `gorm:"column:user_id;index"`
	FullName        string        `gorm:"column:full_name"`
	RawRole         string        `gorm:"column:raw_role"`
	CompanyName     string        `gorm:"column:company_name"`
	LinkedInURL     string        `gorm:"column:linkedin_url"`
	Email           *string       `gorm:"column:email"`
	Status          ContactStatus `gorm:"column:status;index"`
	DraftMessage    *string       `gorm:"column:draft_message"`
	StrategyTag     *StrategyTag  `gorm:"column:strategy_tag"`
	EnrichmentJobID *string       `gorm:"column:enrichment_job_id;index"`
	DedupeKey       string        `gorm:"column:dedupe_key"`
	CreatedAt       time.Time     `gorm:"column:created_at"`
	UpdatedAt       time.Time     `gorm:"column:updated_at"`

	Research *Research `gorm:"foreignKey:ContactID"`
}

// TableName specifies the table name for GORM
func (Contact) TableName() string {
	return "contacts"
}

// Research holds context gathered about a contact by the enrichment pipeline.
// Every field is optional; a contact may reach DRAFT_READY with partial research.
type Research struct {
	ID          string            `gorm:"column:id;primaryKey"`
	ContactID   string            `gorm:"column:contact_id;uniqueIndex"`
	NewsSummary *string           `gorm:"column:news_summary"`
	PainPoints  *string           `gorm:"column:pain_points"`
	SourceURL   *string           `gorm:"column:source_url"`
	RawResponse datatypes.JSONMap `gorm:"column:raw_response;type:jsonb"`
	LastUpdated time.Time         `gorm:"column:last_updated"`
}

// TableName specifies the table name for GORM
func (Research) TableName() string {
	return "research"
}
