package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

// ResourceStore reads and writes every CRM resource type under access rules.
type ResourceStore struct {
	Base
}

// NewResourceStore creates a new ResourceStore.
func NewResourceStore(base Base) *ResourceStore {
	return &ResourceStore{Base: base}
}

// buildListQuery composes scope, privacy, caller filters and the archive gate
// into one SELECT. Placeholders are numbered in that order, then LIMIT and OFFSET.
func buildListQuery(
	p access.Principal,
	scope access.Scope,
	rt models.ResourceType,
	f models.ListFilters,
	searchCols []models.Column,
) (query string, args []any, err error) {
	pred, err := access.ForResource(p, scope, rt, alias, 1)
	if err != nil {
		return "", nil, err
	}

	var conds []access.Condition

	if f.Status != "" {
		conds = append(conds, access.Eq(alias, models.ColStatus, f.Status))
	}

	if f.From != nil {
		conds = append(conds, access.Compare(alias, rt.DateColumn(), access.OpGte, *f.From))
	}

	if f.To != nil {
		conds = append(conds, access.Compare(alias, rt.DateColumn(), access.OpLte, *f.To))
	}

	if f.Search != "" {
		conds = append(conds, access.Search(alias, searchCols, f.Search))
	}

	if f.Archived {
		conds = append(conds, access.IsNotNull(alias, models.ColArchivedAt))
	} else {
		conds = append(conds, access.IsNull(alias, models.ColArchivedAt))
	}

	if err := pred.And(conds...); err != nil {
		return "", nil, fmt.Errorf("building list filters: %w", err)
	}

	a := &argList{vals: pred.Params()}
	query = "SELECT " + selectList(rt) + ", COUNT(*) OVER() AS total_count" +
		" FROM " + rt.Table() + " AS t" +
		" WHERE " + pred.Where() +
		" ORDER BY t.created_at DESC, t.id" +
		" LIMIT " + a.add(f.Limit) + " OFFSET " + a.add(f.Offset())

	return query, a.vals, nil
}

// searchColumns narrows rt's declared search columns to those the table has.
func (s *ResourceStore) searchColumns(ctx context.Context, rt models.ResourceType) ([]models.Column, error) {
	declared := rt.SearchColumns()
	if s.Schema == nil {
		return declared, nil
	}

	have, err := s.Schema.Columns(ctx, rt.Table())
	if err != nil {
		return nil, err
	}

	cols := declared[:0]
	for _, c := range declared {
		if have[c] {
			cols = append(cols, c)
		}
	}

	return cols, nil
}

// FindAll returns one page of rt records visible to p under scope.
func (s *ResourceStore) FindAll(
	ctx context.Context,
	p access.Principal,
	scope access.Scope,
	rt models.ResourceType,
	f models.ListFilters,
) (*models.ListResult, error) {
	if !rt.Valid() {
		return nil, models.ErrInvalidResourceType
	}

	f.Normalize()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := s.require(ctx, rt, models.ColArchivedAt); err != nil {
		return nil, err
	}

	var searchCols []models.Column
	if f.Search != "" {
		cols, err := s.searchColumns(ctx, rt)
		if err != nil {
			return nil, err
		}
		searchCols = cols
	}

	query, args, err := buildListQuery(p, scope, rt, f, searchCols)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", rt.Plural(), err)
	}
	defer rows.Close()

	items := make([]models.Record, 0, f.Limit)
	total := 0

	for rows.Next() {
		rec, err := scanRecord(rt, rows.Scan, &total)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", rt, err)
		}
		items = append(items, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", rt.Plural(), err)
	}

	return &models.ListResult{
		Items:      items,
		Pagination: models.NewPagination(f.Page, f.Limit, total),
	}, nil
}

// FindByID returns one record visible to p under p's default scope. Records
// outside that scope are reported as models.ErrNotFound. Archived records are
// returned so callers can restore them.
func (s *ResourceStore) FindByID(
	ctx context.Context,
	p access.Principal,
	rt models.ResourceType,
	id string,
) (*models.Record, error) {
	if !rt.Valid() {
		return nil, models.ErrInvalidResourceType
	}

	pred, err := scopedByID(p, rt, id, 1)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := "SELECT " + selectList(rt) + " FROM " + rt.Table() + " AS t WHERE " + pred.Where()

	rec, err := scanRecord(rt, s.DB.QueryRow(ctx, query, pred.Params()...).Scan)
	if err != nil {
		if mapped := mapPgError(err); errors.Is(mapped, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}

		return nil, fmt.Errorf("getting %s: %w", rt, err)
	}

	return rec, nil
}
