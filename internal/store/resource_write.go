package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

// assignment is one column set by a create or update.
type assignment struct {
	col   models.Column
	value any
	// merge applies the value as a JSONB patch over the stored object.
	merge bool
}

// assignments turns m into column assignments, rejecting columns rt lacks.
func assignments(rt models.ResourceType, m models.Mutation) ([]assignment, error) {
	var out []assignment

	add := func(col models.Column, v any) {
		out = append(out, assignment{col: col, value: v})
	}

	if m.Title != nil {
		add(models.ColTitle, *m.Title)
	}

	if m.Status != nil {
		add(models.ColStatus, *m.Status)
	}

	if m.Details != nil {
		data, err := json.Marshal(m.Details)
		if err != nil {
			return nil, fmt.Errorf("marshalling details: %w", err)
		}
		out = append(out, assignment{col: models.ColDetails, value: data, merge: true})
	}

	if m.IsPrivate != nil {
		add(models.ColIsPrivate, *m.IsPrivate)
	}

	if m.LeadID != nil {
		add(models.ColLeadID, *m.LeadID)
	}

	if m.Email != nil {
		add(models.ColEmail, *m.Email)
	}

	if m.Phone != nil {
		add(models.ColPhone, *m.Phone)
	}

	if m.StartsAt != nil {
		add(models.ColStartsAt, *m.StartsAt)
	}

	if m.ClosingDate != nil {
		add(models.ColClosingDate, *m.ClosingDate)
	}

	for _, a := range out {
		if !rt.Has(a.col) {
			return nil, fmt.Errorf("%w: %s on %s", models.ErrUnsupportedField, a.col, rt)
		}
	}

	return out, nil
}

// buildInsert renders the INSERT for a new rt record owned by p. Team and
// broker affiliation are copied from the principal.
func buildInsert(p access.Principal, rt models.ResourceType, m models.Mutation) (query string, args []any, err error) {
	sets, err := assignments(rt, m)
	if err != nil {
		return "", nil, err
	}

	a := &argList{}
	cols := []string{string(models.ColOwnerID), string(models.ColTeamID), string(models.ColBrokerID)}
	vals := []string{a.add(p.ID), a.add(p.TeamID), a.add(p.BrokerID)}

	hasStatus := false
	for _, s := range sets {
		if s.col == models.ColStatus {
			hasStatus = true
		}

		ph := a.add(s.value)
		if s.merge {
			ph += "::jsonb"
		}

		cols = append(cols, string(s.col))
		vals = append(vals, ph)
	}

	if !hasStatus {
		cols = append(cols, string(models.ColStatus))
		vals = append(vals, a.add(models.DefaultStatus))
	}

	query = "INSERT INTO " + rt.Table() + " AS t (" + strings.Join(cols, ", ") + ")" +
		" VALUES (" + strings.Join(vals, ", ") + ")" +
		" RETURNING " + selectList(rt)

	return query, a.vals, nil
}

// Create inserts a new record owned by p and returns it at version 1.
func (s *ResourceStore) Create(
	ctx context.Context,
	p access.Principal,
	rt models.ResourceType,
	m models.Mutation,
) (*models.Record, error) {
	if !rt.Valid() {
		return nil, models.ErrInvalidResourceType
	}

	query, args, err := buildInsert(p, rt, m)
	if err != nil {
		return nil, err
	}

	if err := s.requireVisibleLead(ctx, p, m); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rec, err := scanRecord(rt, s.DB.QueryRow(ctx, query, args...).Scan)
	if err != nil {
		mapped := mapPgError(err)
		if errors.Is(mapped, models.ErrDuplicateKey) || errors.Is(mapped, models.ErrInvalidReference) {
			return nil, mapped
		}

		return nil, fmt.Errorf("creating %s: %w", rt, err)
	}

	return rec, nil
}

// requireVisibleLead rejects a lead_id that p cannot read under its default
// scope. A hidden lead is reported as a missing reference.
func (s *ResourceStore) requireVisibleLead(ctx context.Context, p access.Principal, m models.Mutation) error {
	if m.LeadID == nil {
		return nil
	}

	if _, err := s.FindByID(ctx, p, models.ResourceLead, *m.LeadID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: lead %s", models.ErrInvalidReference, *m.LeadID)
		}

		return err
	}

	return nil
}

// scopedByID renders the default-scope, privacy and id predicate used by
// every single-record write, starting at placeholder start.
func scopedByID(p access.Principal, rt models.ResourceType, id string, start int) (*access.Predicate, error) {
	pred, err := access.ForResource(p, access.DefaultScope(p.Role), rt, alias, start)
	if err != nil {
		return nil, err
	}

	if err := pred.And(access.Eq(alias, models.ColID, id)); err != nil {
		return nil, err
	}

	return pred, nil
}
