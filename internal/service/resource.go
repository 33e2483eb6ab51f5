// Package service provides business logic between API handlers and data stores.
package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/domain"
	"github.com/estatedesk/crm/internal/metrics"
	"github.com/estatedesk/crm/internal/models"
)

// ResourceStore is the data-access interface ResourceService depends on.
type ResourceStore = domain.ResourceStore

// EventEmitter is an alias for the canonical domain.EventEmitter interface.
type EventEmitter = domain.EventEmitter

// Compile-time check: *ResourceService must satisfy domain.ResourceService.
var _ domain.ResourceService = (*ResourceService)(nil)

// ResourceService resolves scope, validates mutations and emits an event
// after every committed write.
type ResourceService struct {
	store  ResourceStore
	events EventEmitter
	log    *logrus.Logger
}

// NewResourceService creates a ResourceService. events may be nil.
func NewResourceService(store ResourceStore, events EventEmitter, log *logrus.Logger) *ResourceService {
	return &ResourceService{store: store, events: events, log: log}
}

// List resolves the requested scope for p and returns one page of records.
// Scope errors are returned before any query runs.
func (s *ResourceService) List(
	ctx context.Context, p access.Principal, rt models.ResourceType, requested string, f models.ListFilters,
) (*models.ListResult, error) {
	scope, err := access.ResolveScope(requested, p.Role)
	if err != nil {
		s.rejectScope(p, requested, err)

		return nil, err
	}

	return s.store.FindAll(ctx, p, scope, rt, f)
}

// Get returns one record visible to p (pass-through).
func (s *ResourceService) Get(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error) {
	return s.store.FindByID(ctx, p, rt, id)
}

// Create validates m, inserts the record and emits a created event.
func (s *ResourceService) Create(
	ctx context.Context, p access.Principal, rt models.ResourceType, m models.Mutation,
) (*models.Record, error) {
	if err := m.ValidateCreate(rt); err != nil {
		return nil, err
	}

	rec, err := s.store.Create(ctx, p, rt, m)
	if err != nil {
		return nil, err
	}

	s.emit(p, rec, models.ActionCreated)

	return rec, nil
}

// Update validates m and applies it under optimistic concurrency when
// m.Version is set.
func (s *ResourceService) Update(
	ctx context.Context, p access.Principal, rt models.ResourceType, id string, m models.Mutation,
) (*models.Record, error) {
	if err := m.ValidateUpdate(rt); err != nil {
		return nil, err
	}

	rec, err := s.store.Update(ctx, p, rt, id, m)
	if err != nil {
		return nil, err
	}

	s.emit(p, rec, models.ActionUpdated)

	return rec, nil
}

// Archive soft-deletes a record and emits an archived event.
func (s *ResourceService) Archive(
	ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int,
) (*models.Record, error) {
	return s.lifecycle(ctx, p, rt, id, expect, s.store.Archive, models.ActionArchived)
}

// Restore un-archives a record and emits a restored event.
func (s *ResourceService) Restore(
	ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int,
) (*models.Record, error) {
	return s.lifecycle(ctx, p, rt, id, expect, s.store.Restore, models.ActionRestored)
}

// Delete removes a record and emits a deleted event carrying its last state.
func (s *ResourceService) Delete(
	ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int,
) (*models.Record, error) {
	return s.lifecycle(ctx, p, rt, id, expect, s.store.Delete, models.ActionDeleted)
}

type lifecycleFunc func(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)

func (s *ResourceService) lifecycle(
	ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int,
	write lifecycleFunc, action models.Action,
) (*models.Record, error) {
	if expect != nil && *expect < 1 {
		return nil, &models.ValidationError{Err: models.ErrInvalidVersion}
	}

	rec, err := write(ctx, p, rt, id, expect)
	if err != nil {
		return nil, err
	}

	s.emit(p, rec, action)

	return rec, nil
}

func (s *ResourceService) emit(p access.Principal, rec *models.Record, action models.Action) {
	if s.events == nil {
		return
	}

	s.events.Emit(models.MutationEvent{
		EntityType: rec.Type,
		EntityID:   rec.ID,
		Action:     action,
		Version:    rec.Version,
		Payload:    rec,
	}, p, rec.IsPrivate)
}

func (s *ResourceService) rejectScope(p access.Principal, requested string, err error) {
	kind := "unknown"

	var aerr *access.Error
	if errors.As(err, &aerr) {
		kind = string(aerr.Kind)
	}

	metrics.ScopeRejections.WithLabelValues(kind).Inc()
	s.log.WithFields(logrus.Fields{
		"user_id": p.ID,
		"role":    p.Role,
		"scope":   requested,
		"kind":    kind,
	}).Debug("scope rejected")
}
