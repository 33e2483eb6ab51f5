package access

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/estatedesk/crm/internal/models"
)

var aliasPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Condition is one typed filter node. The interface is sealed: every
// implementation lives in this file and renders through renderer, so no
// string assembled elsewhere can reach a WHERE clause.
type Condition interface {
	render(r *renderer) string
}

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	OpEq  Op = "="
	OpNeq Op = "<>"
	OpGte Op = ">="
	OpLte Op = "<="
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNeq, OpGte, OpLte:
		return true
	}

	return false
}

type renderer struct {
	params []any
	next   int
	err    error
}

func (r *renderer) bind(v any) string {
	r.params = append(r.params, v)
	ph := "$" + strconv.Itoa(r.next)
	r.next++

	return ph
}

func (r *renderer) fail(err error) string {
	if r.err == nil {
		r.err = err
	}

	return "FALSE"
}

func (r *renderer) column(alias string, col models.Column) string {
	if !col.Valid() {
		return r.fail(fmt.Errorf("%w: %q", ErrInvalidField, col))
	}

	if alias == "" {
		return string(col)
	}

	if !aliasPattern.MatchString(alias) {
		return r.fail(fmt.Errorf("%w: alias %q", ErrInvalidField, alias))
	}

	return alias + "." + string(col)
}

type comparison struct {
	alias string
	col   models.Column
	op    Op
	value any
}

func (c comparison) render(r *renderer) string {
	if !c.op.valid() {
		return r.fail(fmt.Errorf("unsupported operator %q", c.op))
	}

	return r.column(c.alias, c.col) + " " + string(c.op) + " " + r.bind(c.value)
}

// Eq matches alias.col = value.
func Eq(alias string, col models.Column, value any) Condition {
	return comparison{alias: alias, col: col, op: OpEq, value: value}
}

// Compare matches alias.col <op> value.
func Compare(alias string, col models.Column, op Op, value any) Condition {
	return comparison{alias: alias, col: col, op: op, value: value}
}

type nullCheck struct {
	alias string
	col   models.Column
	not   bool
}

func (n nullCheck) render(r *renderer) string {
	if n.not {
		return r.column(n.alias, n.col) + " IS NOT NULL"
	}

	return r.column(n.alias, n.col) + " IS NULL"
}

// IsNull matches rows where alias.col is NULL.
func IsNull(alias string, col models.Column) Condition { return nullCheck{alias: alias, col: col} }

// IsNotNull matches rows where alias.col is not NULL.
func IsNotNull(alias string, col models.Column) Condition {
	return nullCheck{alias: alias, col: col, not: true}
}

// boolCheck compares against a boolean literal. Literals are not caller data
// so they are inlined rather than bound.
type boolCheck struct {
	alias string
	col   models.Column
	want  bool
}

func (b boolCheck) render(r *renderer) string {
	lit := "FALSE"
	if b.want {
		lit = "TRUE"
	}

	return r.column(b.alias, b.col) + " = " + lit
}

// IsTrue matches alias.col = TRUE.
func IsTrue(alias string, col models.Column) Condition { return boolCheck{alias: alias, col: col, want: true} }

// IsFalse matches alias.col = FALSE.
func IsFalse(alias string, col models.Column) Condition { return boolCheck{alias: alias, col: col} }

type anyOf []Condition

func (a anyOf) render(r *renderer) string {
	if len(a) == 0 {
		return "FALSE"
	}

	parts := make([]string, len(a))
	for i, c := range a {
		parts[i] = c.render(r)
	}

	return "(" + strings.Join(parts, " OR ") + ")"
}

// AnyOf matches when at least one condition matches. An empty group matches nothing.
func AnyOf(conds ...Condition) Condition { return anyOf(conds) }

type allOf []Condition

func (a allOf) render(r *renderer) string {
	if len(a) == 0 {
		return "TRUE"
	}

	parts := make([]string, len(a))
	for i, c := range a {
		parts[i] = c.render(r)
	}

	return strings.Join(parts, " AND ")
}

// subSelect is "SELECT id FROM <table> WHERE ..." over an internal table.
type subSelect struct {
	table string
	where []Condition
}

func (s subSelect) render(r *renderer) string {
	return "SELECT id FROM " + s.table + " WHERE " + allOf(s.where).render(r)
}

// usersOfBroker selects the ids of every user affiliated with brokerID.
func usersOfBroker(brokerID string) subSelect {
	return subSelect{table: "users", where: []Condition{Eq("", models.ColBrokerID, brokerID)}}
}

// privateLeads selects private lead ids. When exceptOwner is set, leads
// owned by that user are left out.
func privateLeads(exceptOwner *string) subSelect {
	where := []Condition{IsTrue("", models.ColIsPrivate)}
	if exceptOwner != nil {
		where = append(where, Compare("", models.ColOwnerID, OpNeq, *exceptOwner))
	}

	return subSelect{table: models.ResourceLead.Table(), where: where}
}

type membership struct {
	alias string
	col   models.Column
	sel   subSelect
	not   bool
}

func (m membership) render(r *renderer) string {
	op := " IN ("
	if m.not {
		op = " NOT IN ("
	}

	return r.column(m.alias, m.col) + op + m.sel.render(r) + ")"
}

type search struct {
	alias string
	cols  []models.Column
	term  string
}

func (s search) render(r *renderer) string {
	if len(s.cols) == 0 {
		return "FALSE"
	}

	ph := r.bind("%" + escapeLike(s.term) + "%")
	parts := make([]string, len(s.cols))
	for i, col := range s.cols {
		parts[i] = r.column(s.alias, col) + " ILIKE " + ph
	}

	return "(" + strings.Join(parts, " OR ") + ")"
}

// Search matches rows where any of cols contains term, case-insensitively.
// The term is bound once and the placeholder reused for every column.
func Search(alias string, cols []models.Column, term string) Condition {
	return search{alias: alias, cols: append([]models.Column(nil), cols...), term: term}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
