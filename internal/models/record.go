package models

import "time"

// Record is one row of any CRM resource table. Type-specific columns are
// nil on types that do not carry them.
type Record struct {
	ID          string         `json:"id"`
	Type        ResourceType   `json:"type"`
	OwnerID     string         `json:"owner_id"`
	TeamID      *string        `json:"team_id,omitempty"`
	BrokerID    *string        `json:"broker_id,omitempty"`
	Title       string         `json:"title"`
	Status      string         `json:"status"`
	Details     map[string]any `json:"details"`
	IsPrivate   bool           `json:"is_private"`
	LeadID      *string        `json:"lead_id,omitempty"`
	Email       *string        `json:"email,omitempty"`
	Phone       *string        `json:"phone,omitempty"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	ClosingDate *time.Time     `json:"closing_date,omitempty"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
}

// Archived reports whether the record has been soft-deleted.
func (r *Record) Archived() bool {
	return r.ArchivedAt != nil
}
