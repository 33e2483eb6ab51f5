package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/estatedesk/crm/internal/models"
)

// selectList returns the uniform column list scanned by scanRecord. Columns a
// type does not carry are selected as typed NULLs so every type scans alike.
func selectList(rt models.ResourceType) string {
	opt := func(col models.Column, expr, null string) string {
		if rt.Has(col) {
			return expr
		}
		return null
	}

	var private string
	switch rt.Privacy() {
	case models.PrivacyOwnFlag:
		private = "t.is_private"
	case models.PrivacyLinkedLead:
		private = "COALESCE((SELECT l.is_private FROM " + models.ResourceLead.Table() + " AS l WHERE l.id = t.lead_id), FALSE)"
	default:
		private = "FALSE"
	}

	cols := []string{
		"t.id::text", "t.owner_id::text", "t.team_id::text", "t.broker_id::text",
		"t.title", "t.status", "t.details",
		private,
		opt(models.ColLeadID, "t.lead_id::text", "NULL::text"),
		opt(models.ColEmail, "t.email", "NULL::text"),
		opt(models.ColPhone, "t.phone", "NULL::text"),
		opt(models.ColStartsAt, "t.starts_at", "NULL::timestamptz"),
		opt(models.ColClosingDate, "t.closing_date", "NULL::date"),
		"t.version", "t.created_at", "t.updated_at", "t.archived_at",
	}

	return strings.Join(cols, ", ")
}

// scanRecord scans one row selected with selectList. Extra destinations are
// appended after the record columns.
func scanRecord(rt models.ResourceType, scan func(dest ...any) error, extra ...any) (*models.Record, error) {
	var r models.Record
	var details []byte

	dest := []any{
		&r.ID, &r.OwnerID, &r.TeamID, &r.BrokerID,
		&r.Title, &r.Status, &details,
		&r.IsPrivate,
		&r.LeadID, &r.Email, &r.Phone, &r.StartsAt, &r.ClosingDate,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &r.ArchivedAt,
	}
	dest = append(dest, extra...)

	if err := scan(dest...); err != nil {
		return nil, err
	}

	r.Type = rt
	r.Details = map[string]any{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &r.Details); err != nil {
			return nil, fmt.Errorf("unmarshalling details: %w", err)
		}
	}

	return &r, nil
}
