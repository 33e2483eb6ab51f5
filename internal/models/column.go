package models

// Column is an allow-listed column identifier. Filter and write code only
// ever names columns through these constants, never through caller input.
type Column string

// Columns shared by the CRM resource tables.
const (
	ColID          Column = "id"
	ColOwnerID     Column = "owner_id"
	ColTeamID      Column = "team_id"
	ColBrokerID    Column = "broker_id"
	ColTitle       Column = "title"
	ColStatus      Column = "status"
	ColDetails     Column = "details"
	ColIsPrivate   Column = "is_private"
	ColLeadID      Column = "lead_id"
	ColEmail       Column = "email"
	ColPhone       Column = "phone"
	ColStartsAt    Column = "starts_at"
	ColClosingDate Column = "closing_date"
	ColVersion     Column = "version"
	ColCreatedAt   Column = "created_at"
	ColUpdatedAt   Column = "updated_at"
	ColArchivedAt  Column = "archived_at"
)

// Valid reports whether c is one of the known columns.
func (c Column) Valid() bool {
	switch c {
	case ColID, ColOwnerID, ColTeamID, ColBrokerID, ColTitle, ColStatus, ColDetails,
		ColIsPrivate, ColLeadID, ColEmail, ColPhone, ColStartsAt, ColClosingDate,
		ColVersion, ColCreatedAt, ColUpdatedAt, ColArchivedAt:
		return true
	}

	return false
}
