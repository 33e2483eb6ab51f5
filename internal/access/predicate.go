package access

import (
	"strings"

	"github.com/estatedesk/crm/internal/models"
)

// Predicate is an ANDed list of rendered conditions with their positional
// parameters. Placeholders start at the index given to NewPredicate so the
// fragment can be spliced into a statement that already binds $1..$n-1.
type Predicate struct {
	clauses []string
	params  []any
	next    int
}

// NewPredicate returns an empty predicate whose first placeholder is $start.
func NewPredicate(start int) *Predicate {
	if start < 1 {
		start = 1
	}

	return &Predicate{next: start}
}

// And renders conds and appends them. On error the predicate is unchanged.
func (p *Predicate) And(conds ...Condition) error {
	r := &renderer{next: p.next}

	clauses := make([]string, 0, len(conds))
	for _, c := range conds {
		clauses = append(clauses, c.render(r))
	}

	if r.err != nil {
		return r.err
	}

	p.clauses = append(p.clauses, clauses...)
	p.params = append(p.params, r.params...)
	p.next = r.next

	return nil
}

// Where returns the clause joined with AND, or TRUE when empty.
func (p *Predicate) Where() string {
	if len(p.clauses) == 0 {
		return "TRUE"
	}

	return strings.Join(p.clauses, " AND ")
}

// Params returns a copy of the bound values in placeholder order.
func (p *Predicate) Params() []any {
	return append([]any(nil), p.params...)
}

// NextParamIndex is the index the next bound value will get.
func (p *Predicate) NextParamIndex() int { return p.next }

// Empty reports whether no condition has been added.
func (p *Predicate) Empty() bool { return len(p.clauses) == 0 }

// Build renders the ownership predicate for principal under scope, with
// columns qualified by alias and placeholders starting at start. A scope the
// role cannot hold is rejected even when it was resolved elsewhere.
func Build(p Principal, scope Scope, alias string, start int) (*Predicate, error) {
	if !Permits(p.Role, scope) {
		return nil, forbiddenScope(p.Role, scope)
	}

	pred := NewPredicate(start)

	var cond Condition
	switch EffectiveScope(p, scope) {
	case ScopeUser:
		cond = Eq(alias, models.ColOwnerID, p.ID)
	case ScopeTeam:
		cond = Eq(alias, models.ColTeamID, *p.TeamID)
	case ScopeBrokerage:
		if p.BrokerID == nil {
			return nil, missingBroker(p)
		}
		cond = membership{alias: alias, col: models.ColOwnerID, sel: usersOfBroker(*p.BrokerID)}
	case ScopeAll:
		return pred, nil
	default:
		return nil, invalidScope(p.Role, string(scope))
	}

	if err := pred.And(cond); err != nil {
		return nil, err
	}

	return pred, nil
}

// ForResource builds the scope predicate and applies the privacy overlay for rt.
func ForResource(p Principal, scope Scope, rt models.ResourceType, alias string, start int) (*Predicate, error) {
	pred, err := Build(p, scope, alias, start)
	if err != nil {
		return nil, err
	}

	if err := ApplyPrivacy(pred, p, scope, rt, alias); err != nil {
		return nil, err
	}

	return pred, nil
}
