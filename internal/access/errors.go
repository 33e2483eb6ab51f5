package access

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is against any *Error of the same kind.
var (
	ErrInvalidScope             = errors.New("invalid scope")
	ErrForbiddenScope           = errors.New("forbidden scope")
	ErrMissingBrokerAffiliation = errors.New("missing broker affiliation")
	ErrInvalidField             = errors.New("invalid field")
)

// ErrorKind classifies access errors.
type ErrorKind string

// Error kinds.
const (
	KindInvalidScope             ErrorKind = "invalid_scope"
	KindForbiddenScope           ErrorKind = "forbidden_scope"
	KindMissingBrokerAffiliation ErrorKind = "missing_broker_affiliation"
)

// Error is a scope resolution or predicate building failure.
type Error struct {
	Kind    ErrorKind
	Role    Role
	Scope   string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Unwrap maps the kind to its sentinel.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindInvalidScope:
		return ErrInvalidScope
	case KindForbiddenScope:
		return ErrForbiddenScope
	case KindMissingBrokerAffiliation:
		return ErrMissingBrokerAffiliation
	}

	return nil
}

func invalidScope(role Role, scope string) error {
	return &Error{
		Kind: KindInvalidScope, Role: role, Scope: scope,
		Message: fmt.Sprintf("invalid scope %q: expected one of user, team, brokerage, all", scope),
	}
}

func forbiddenScope(role Role, scope Scope) error {
	return &Error{
		Kind: KindForbiddenScope, Role: role, Scope: string(scope),
		Message: fmt.Sprintf("role %s may not use scope %s", role, scope),
	}
}

func missingBroker(p Principal) error {
	return &Error{
		Kind: KindMissingBrokerAffiliation, Role: p.Role, Scope: string(ScopeBrokerage),
		Message: fmt.Sprintf("principal %s has no broker affiliation for scope brokerage", p.ID),
	}
}
