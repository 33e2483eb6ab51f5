package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/metrics"
	"github.com/estatedesk/crm/internal/models"
)

type writeKind int

const (
	writeUpdate writeKind = iota
	writeArchive
	writeRestore
	writeDelete
)

func (k writeKind) String() string {
	switch k {
	case writeArchive:
		return "archive"
	case writeRestore:
		return "restore"
	case writeDelete:
		return "delete"
	default:
		return "update"
	}
}

// versionedWrite is one conditional single-row write.
type versionedWrite struct {
	kind   writeKind
	rt     models.ResourceType
	id     string
	sets   []assignment
	expect *int
}

// gate is the lifecycle condition a row must meet for the write to apply.
// Updates and archives act on live rows, restores on archived rows. Deletes
// ignore the lifecycle.
func (w versionedWrite) gate() access.Condition {
	switch w.kind {
	case writeUpdate, writeArchive:
		return access.IsNull(alias, models.ColArchivedAt)
	case writeRestore:
		return access.IsNotNull(alias, models.ColArchivedAt)
	}

	return nil
}

// eligible renders the scope, privacy, id and lifecycle predicate for w.
func (w versionedWrite) eligible(p access.Principal, start int) (*access.Predicate, error) {
	pred, err := scopedByID(p, w.rt, w.id, start)
	if err != nil {
		return nil, err
	}

	if g := w.gate(); g != nil {
		if err := pred.And(g); err != nil {
			return nil, err
		}
	}

	return pred, nil
}

// buildConditionalWrite renders w as one UPDATE or DELETE that only touches
// the row when it is in scope, in the right lifecycle state and, if expect is
// set, still at the expected version. Successful updates bump the version.
func buildConditionalWrite(p access.Principal, w versionedWrite) (query string, args []any, err error) {
	a := &argList{}

	var sets []string
	switch w.kind {
	case writeUpdate:
		for _, s := range w.sets {
			if s.merge {
				sets = append(sets, string(s.col)+" = t."+string(s.col)+" || "+a.add(s.value)+"::jsonb")
				continue
			}
			sets = append(sets, string(s.col)+" = "+a.add(s.value))
		}
	case writeArchive:
		sets = append(sets, string(models.ColArchivedAt)+" = NOW()")
	case writeRestore:
		sets = append(sets, string(models.ColArchivedAt)+" = NULL")
	}

	pred, err := w.eligible(p, a.next())
	if err != nil {
		return "", nil, err
	}

	if w.expect != nil {
		if err := pred.And(access.Eq(alias, models.ColVersion, *w.expect)); err != nil {
			return "", nil, err
		}
	}

	a.extend(pred)

	if w.kind == writeDelete {
		query = "DELETE FROM " + w.rt.Table() + " AS t WHERE " + pred.Where() +
			" RETURNING " + selectList(w.rt)

		return query, a.vals, nil
	}

	sets = append(sets, "version = t.version + 1", "updated_at = NOW()")
	query = "UPDATE " + w.rt.Table() + " AS t SET " + strings.Join(sets, ", ") +
		" WHERE " + pred.Where() +
		" RETURNING " + selectList(w.rt)

	return query, a.vals, nil
}

// conditionalWrite runs w. When no row matches and the caller sent a version,
// the row is re-read under the same scope and lifecycle gate: if it is still
// there the write lost a race and a *models.VersionConflictError is returned.
func (s *ResourceStore) conditionalWrite(ctx context.Context, p access.Principal, w versionedWrite) (*models.Record, error) {
	if !w.rt.Valid() {
		return nil, models.ErrInvalidResourceType
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	required := []models.Column{models.ColVersion}
	if w.kind == writeArchive || w.kind == writeRestore {
		required = append(required, models.ColArchivedAt)
	}

	if err := s.require(ctx, w.rt, required...); err != nil {
		return nil, err
	}

	query, args, err := buildConditionalWrite(p, w)
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(w.rt, s.DB.QueryRow(ctx, query, args...).Scan)
	if err == nil {
		return rec, nil
	}

	mapped := mapPgError(err)
	if !errors.Is(mapped, models.ErrNotFound) {
		if errors.Is(mapped, models.ErrDuplicateKey) || errors.Is(mapped, models.ErrInvalidReference) {
			return nil, mapped
		}

		return nil, fmt.Errorf("%s %s: %w", w.kind, w.rt, err)
	}

	if w.expect == nil {
		return nil, models.ErrNotFound
	}

	current, err := s.currentVersion(ctx, p, w)
	if err != nil {
		return nil, err
	}

	metrics.VersionConflicts.WithLabelValues(string(w.rt)).Inc()

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"resource":          w.rt,
			"id":                w.id,
			"op":                w.kind.String(),
			"current_version":   current,
			"attempted_version": *w.expect,
		}).Debug("version conflict")
	}

	return nil, &models.VersionConflictError{
		Resource:         w.rt,
		ID:               w.id,
		CurrentVersion:   current,
		AttemptedVersion: *w.expect,
	}
}

// currentVersion re-reads the version of the row w targets, under the same
// scope and lifecycle gate.
func (s *ResourceStore) currentVersion(ctx context.Context, p access.Principal, w versionedWrite) (int, error) {
	pred, err := w.eligible(p, 1)
	if err != nil {
		return 0, err
	}

	query := "SELECT t.version FROM " + w.rt.Table() + " AS t WHERE " + pred.Where()

	var version int
	if err := s.DB.QueryRow(ctx, query, pred.Params()...).Scan(&version); err != nil {
		if mapped := mapPgError(err); errors.Is(mapped, models.ErrNotFound) {
			return 0, models.ErrNotFound
		}

		return 0, fmt.Errorf("re-reading %s version: %w", w.rt, err)
	}

	return version, nil
}

// Update applies m to the record. m.Version, when set, must match the stored version.
func (s *ResourceStore) Update(
	ctx context.Context,
	p access.Principal,
	rt models.ResourceType,
	id string,
	m models.Mutation,
) (*models.Record, error) {
	sets, err := assignments(rt, m)
	if err != nil {
		return nil, err
	}

	if len(sets) == 0 {
		return nil, models.ErrEmptyUpdate
	}

	if err := s.requireVisibleLead(ctx, p, m); err != nil {
		return nil, err
	}

	return s.conditionalWrite(ctx, p, versionedWrite{kind: writeUpdate, rt: rt, id: id, sets: sets, expect: m.Version})
}

// Archive soft-deletes a live record.
func (s *ResourceStore) Archive(
	ctx context.Context,
	p access.Principal,
	rt models.ResourceType,
	id string,
	expect *int,
) (*models.Record, error) {
	return s.conditionalWrite(ctx, p, versionedWrite{kind: writeArchive, rt: rt, id: id, expect: expect})
}

// Restore brings an archived record back.
func (s *ResourceStore) Restore(
	ctx context.Context,
	p access.Principal,
	rt models.ResourceType,
	id string,
	expect *int,
) (*models.Record, error) {
	return s.conditionalWrite(ctx, p, versionedWrite{kind: writeRestore, rt: rt, id: id, expect: expect})
}

// Delete removes a record permanently and returns its last state.
func (s *ResourceStore) Delete(
	ctx context.Context,
	p access.Principal,
	rt models.ResourceType,
	id string,
	expect *int,
) (*models.Record, error) {
	return s.conditionalWrite(ctx, p, versionedWrite{kind: writeDelete, rt: rt, id: id, expect: expect})
}
