package service

import (
	"context"
	"sync"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

// mockResourceStore records calls and returns configured responses.
type mockResourceStore struct {
	mu    sync.Mutex
	calls []string

	findAll  func(ctx context.Context, p access.Principal, scope access.Scope, rt models.ResourceType, f models.ListFilters) (*models.ListResult, error)
	findByID func(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error)
	create   func(ctx context.Context, p access.Principal, rt models.ResourceType, m models.Mutation) (*models.Record, error)
	update   func(ctx context.Context, p access.Principal, rt models.ResourceType, id string, m models.Mutation) (*models.Record, error)
	write    func(op string, expect *int) (*models.Record, error)
}

func (m *mockResourceStore) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockResourceStore) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockResourceStore) FindAll(ctx context.Context, p access.Principal, scope access.Scope, rt models.ResourceType, f models.ListFilters) (*models.ListResult, error) {
	m.record("FindAll")
	return m.findAll(ctx, p, scope, rt, f)
}

func (m *mockResourceStore) FindByID(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error) {
	m.record("FindByID")
	return m.findByID(ctx, p, rt, id)
}

func (m *mockResourceStore) Create(ctx context.Context, p access.Principal, rt models.ResourceType, mut models.Mutation) (*models.Record, error) {
	m.record("Create")
	return m.create(ctx, p, rt, mut)
}

func (m *mockResourceStore) Update(ctx context.Context, p access.Principal, rt models.ResourceType, id string, mut models.Mutation) (*models.Record, error) {
	m.record("Update")
	return m.update(ctx, p, rt, id, mut)
}

func (m *mockResourceStore) Archive(_ context.Context, _ access.Principal, _ models.ResourceType, _ string, expect *int) (*models.Record, error) {
	m.record("Archive")
	return m.write("Archive", expect)
}

func (m *mockResourceStore) Restore(_ context.Context, _ access.Principal, _ models.ResourceType, _ string, expect *int) (*models.Record, error) {
	m.record("Restore")
	return m.write("Restore", expect)
}

func (m *mockResourceStore) Delete(_ context.Context, _ access.Principal, _ models.ResourceType, _ string, expect *int) (*models.Record, error) {
	m.record("Delete")
	return m.write("Delete", expect)
}

type emitted struct {
	evt       models.MutationEvent
	principal access.Principal
	isPrivate bool
}

// mockEmitter captures emitted events.
type mockEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (m *mockEmitter) Emit(evt models.MutationEvent, p access.Principal, isPrivate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, emitted{evt: evt, principal: p, isPrivate: isPrivate})
}

func (m *mockEmitter) all() []emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]emitted(nil), m.events...)
}
