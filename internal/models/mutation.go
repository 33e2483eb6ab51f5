package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultStatus is assigned to new records created without a status.
const DefaultStatus = "active"

// Mutation carries the fields a create or update may set. Nil fields are left
// untouched. Version is the version the caller last observed; when set, the
// write only applies if the stored row still has it.
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

// Empty reports whether the mutation sets no field. The version alone does not count.
func (m *Mutation) Empty() bool {
	return m.Title == nil && m.Status == nil && m.Details == nil && m.IsPrivate == nil &&
		m.LeadID == nil && m.Email == nil && m.Phone == nil && m.StartsAt == nil && m.ClosingDate == nil
}

// ValidateCreate checks a mutation used to create a record of type rt.
func (m *Mutation) ValidateCreate(rt ResourceType) error {
	if m.Title == nil || *m.Title == "" {
		return invalid(ErrMissingTitle)
	}

	return invalid(m.validate(rt))
}

// ValidateUpdate checks a mutation used to update a record of type rt.
func (m *Mutation) ValidateUpdate(rt ResourceType) error {
	if m.Empty() {
		return invalid(ErrEmptyUpdate)
	}

	if m.Title != nil && *m.Title == "" {
		return invalid(fmt.Errorf("title cannot be empty"))
	}

	return invalid(m.validate(rt))
}

func (m *Mutation) validate(rt ResourceType) error {
	if m.Version != nil && *m.Version < 1 {
		return ErrInvalidVersion
	}

	if m.Title != nil && len(*m.Title) > 500 {
		return ErrFieldTooLong("title", 500)
	}

	if m.Status != nil {
		if *m.Status == "" {
			return fmt.Errorf("status cannot be empty")
		}
		if len(*m.Status) > 50 {
			return ErrFieldTooLong("status", 50)
		}
	}

	if m.Details != nil {
		data, err := json.Marshal(m.Details)
		if err != nil {
			return fmt.Errorf("invalid details: %w", err)
		}
		if len(data) > 65536 {
			return ErrFieldTooLong("details", 65536)
		}
	}

	for col, set := range m.typedFields() {
		if set && !rt.Has(col) {
			return unsupportedField(col, rt)
		}
	}

	if m.Email != nil && len(*m.Email) > 320 {
		return ErrFieldTooLong("email", 320)
	}

	if m.Phone != nil && len(*m.Phone) > 50 {
		return ErrFieldTooLong("phone", 50)
	}

	return nil
}

func (m *Mutation) typedFields() map[Column]bool {
	return map[Column]bool{
		ColIsPrivate:   m.IsPrivate != nil,
		ColLeadID:      m.LeadID != nil,
		ColEmail:       m.Email != nil,
		ColPhone:       m.Phone != nil,
		ColStartsAt:    m.StartsAt != nil,
		ColClosingDate: m.ClosingDate != nil,
	}
}
