package client

import "time"

// Record is one CRM resource: an escrow, listing, client, lead or appointment.
type Record struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
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

// Mutation is the payload for create and update. Nil fields are left untouched.
// Version, when set on update, makes the write conditional.
type Mutation struct {
	Title       *string        `json:"title,omitempty"`
	Status      *string        `json:"status,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	IsPrivate   *bool          `json:"is_private,omitempty"`
	LeadID      *string        `json:"lead_id,omitempty"`
	Email       *string        `json:"email,omitempty"`
	Phone       *string        `json:"phone,omitempty"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	ClosingDate *time.Time     `json:"closing_date,omitempty"`
	Version     *int           `json:"version,omitempty"`
}

// ListOptions filters a list request. Zero values are omitted.
type ListOptions struct {
	Scope    string
	Status   string
	From     *time.Time
	To       *time.Time
	Search   string
	Archived bool
	Page     int
	Limit    int
}

// Pagination describes one page of a list result.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ListResult is a page of records.
type ListResult struct {
	Items      []Record   `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	SchemaVersion int     `json:"schema_version"`
	Database      string  `json:"database"`
	WSClients     int     `json:"ws_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}
