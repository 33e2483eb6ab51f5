// Package models defines data types for the brokerage CRM.
package models

import "fmt"

// ResourceType names one of the scoped CRM entities.
type ResourceType string

// Supported resource types.
const (
	ResourceEscrow      ResourceType = "escrow"
	ResourceListing     ResourceType = "listing"
	ResourceClient      ResourceType = "client"
	ResourceLead        ResourceType = "lead"
	ResourceAppointment ResourceType = "appointment"
)

// PrivacyKind describes how a resource type hides records from colleagues.
type PrivacyKind int

const (
	// PrivacyNone means records are never private.
	PrivacyNone PrivacyKind = iota
	// PrivacyOwnFlag means the row carries its own is_private column.
	PrivacyOwnFlag
	// PrivacyLinkedLead means the row inherits privacy from the lead it references.
	PrivacyLinkedLead
)

type descriptor struct {
	table   string
	plural  string
	privacy PrivacyKind
	date    Column
	search  []Column
	extra   []Column
}

var descriptors = map[ResourceType]descriptor{
	ResourceEscrow: {
		table: "escrows", plural: "escrows", date: ColClosingDate,
		search: []Column{ColTitle},
		extra:  []Column{ColClosingDate},
	},
	ResourceListing: {
		table: "listings", plural: "listings", date: ColCreatedAt,
		search: []Column{ColTitle},
	},
	ResourceClient: {
		table: "clients", plural: "clients", date: ColCreatedAt,
		search: []Column{ColTitle, ColEmail, ColPhone},
		extra:  []Column{ColEmail, ColPhone},
	},
	ResourceLead: {
		table: "leads", plural: "leads", privacy: PrivacyOwnFlag, date: ColCreatedAt,
		search: []Column{ColTitle, ColEmail, ColPhone},
		extra:  []Column{ColIsPrivate, ColEmail, ColPhone},
	},
	ResourceAppointment: {
		table: "appointments", plural: "appointments", privacy: PrivacyLinkedLead, date: ColStartsAt,
		search: []Column{ColTitle},
		extra:  []Column{ColLeadID, ColStartsAt},
	},
}

// ResourceTypes returns every supported type in a stable order.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceEscrow, ResourceListing, ResourceClient, ResourceLead, ResourceAppointment}
}

// ParseResourceType accepts either the singular or the plural form.
func ParseResourceType(s string) (ResourceType, error) {
	for rt, d := range descriptors {
		if s == string(rt) || s == d.plural {
			return rt, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidResourceType, s)
}

// Valid reports whether t is a supported resource type.
func (t ResourceType) Valid() bool {
	_, ok := descriptors[t]
	return ok
}

// Table returns the backing table name.
func (t ResourceType) Table() string { return descriptors[t].table }

// Plural returns the collection name used in routes.
func (t ResourceType) Plural() string { return descriptors[t].plural }

// Privacy returns how records of this type can be private.
func (t ResourceType) Privacy() PrivacyKind { return descriptors[t].privacy }

// DateColumn is the column date-range filters apply to.
func (t ResourceType) DateColumn() Column { return descriptors[t].date }

// SearchColumns lists the columns free-text search matches against.
func (t ResourceType) SearchColumns() []Column {
	return append([]Column(nil), descriptors[t].search...)
}

// Has reports whether the type's table carries the given column. Every type
// has the common columns; the rest are type-specific.
func (t ResourceType) Has(c Column) bool {
	switch c {
	case ColID, ColOwnerID, ColTeamID, ColBrokerID, ColTitle, ColStatus, ColDetails,
		ColVersion, ColCreatedAt, ColUpdatedAt, ColArchivedAt:
		return t.Valid()
	}

	for _, e := range descriptors[t].extra {
		if e == c {
			return true
		}
	}

	return false
}
