// Package access decides which CRM records a caller may see or change.
//
// A request carries a Principal and an optional requested Scope. ResolveScope
// turns the request into an authorised Scope, Build renders the ownership
// predicate for it and ApplyPrivacy narrows that predicate for resource types
// that can hold private records. Every caller value ends up as a positional
// parameter; column names only ever come from models.Column constants.
package access

import "fmt"

// Role is a principal's position in the brokerage hierarchy.
type Role string

// Known roles.
const (
	RoleAgent       Role = "agent"
	RoleTeamOwner   Role = "team_owner"
	RoleBroker      Role = "broker"
	RoleSystemAdmin Role = "system_admin"
)

// ParseRole converts a claim value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}

	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleTeamOwner, RoleBroker, RoleSystemAdmin:
		return true
	}

	return false
}

// Principal is the authenticated caller. Immutable for the request.
type Principal struct {
	ID       string
	Role     Role
	BrokerID *string
	TeamID   *string
}

// IsAdmin reports whether the principal is a system administrator.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleSystemAdmin
}
