package access

// Scope is the visibility breadth requested for a query.
type Scope string

// Scopes from narrowest to widest.
const (
	ScopeUser      Scope = "user"
	ScopeTeam      Scope = "team"
	ScopeBrokerage Scope = "brokerage"
	ScopeAll       Scope = "all"
)

// DefaultScope returns the scope used when a request names none.
func DefaultScope(role Role) Scope {
	switch role {
	case RoleSystemAdmin:
		return ScopeAll
	case RoleBroker:
		return ScopeBrokerage
	default:
		return ScopeTeam
	}
}

// ValidateScope parses requested and checks the role may use it.
// It is a pure function of its inputs.
func ValidateScope(requested string, role Role) (Scope, error) {
	scope := Scope(requested)

	switch scope {
	case ScopeUser, ScopeTeam, ScopeBrokerage, ScopeAll:
	default:
		return "", invalidScope(role, requested)
	}

	if !Permits(role, scope) {
		return "", forbiddenScope(role, scope)
	}

	return scope, nil
}

// ResolveScope returns DefaultScope for an empty request, otherwise ValidateScope.
func ResolveScope(requested string, role Role) (Scope, error) {
	if requested == "" {
		return DefaultScope(role), nil
	}

	return ValidateScope(requested, role)
}

// Permits reports whether role may hold scope.
func Permits(role Role, scope Scope) bool {
	switch scope {
	case ScopeUser, ScopeTeam:
		return true
	case ScopeBrokerage:
		return role == RoleBroker || role == RoleSystemAdmin
	case ScopeAll:
		return role == RoleSystemAdmin
	}

	return false
}

// EffectiveScope is the scope the predicate actually enforces. A system
// admin is unrestricted unless they explicitly ask for their own records,
// and a team request from a principal without a team narrows to user.
func EffectiveScope(p Principal, scope Scope) Scope {
	if p.IsAdmin() && scope != ScopeUser {
		return ScopeAll
	}

	if scope == ScopeTeam && p.TeamID == nil {
		return ScopeUser
	}

	return scope
}
