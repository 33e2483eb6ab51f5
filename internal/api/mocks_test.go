package api_test

import (
	"context"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

type writeCall struct {
	op     string
	id     string
	expect *int
}

// mockResourceService implements domain.ResourceService with func fields.
type mockResourceService struct {
	listFn   func(ctx context.Context, p access.Principal, rt models.ResourceType, scope string, f models.ListFilters) (*models.ListResult, error)
	getFn    func(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error)
	createFn func(ctx context.Context, p access.Principal, rt models.ResourceType, m models.Mutation) (*models.Record, error)
	updateFn func(ctx context.Context, p access.Principal, rt models.ResourceType, id string, m models.Mutation) (*models.Record, error)
	writeFn  func(call writeCall) (*models.Record, error)
}

func (m *mockResourceService) List(ctx context.Context, p access.Principal, rt models.ResourceType, scope string, f models.ListFilters) (*models.ListResult, error) {
	return m.listFn(ctx, p, rt, scope, f)
}

func (m *mockResourceService) Get(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error) {
	return m.getFn(ctx, p, rt, id)
}

func (m *mockResourceService) Create(ctx context.Context, p access.Principal, rt models.ResourceType, mut models.Mutation) (*models.Record, error) {
	return m.createFn(ctx, p, rt, mut)
}

func (m *mockResourceService) Update(ctx context.Context, p access.Principal, rt models.ResourceType, id string, mut models.Mutation) (*models.Record, error) {
	return m.updateFn(ctx, p, rt, id, mut)
}

func (m *mockResourceService) Archive(_ context.Context, _ access.Principal, _ models.ResourceType, id string, expect *int) (*models.Record, error) {
	return m.writeFn(writeCall{op: "archive", id: id, expect: expect})
}

func (m *mockResourceService) Restore(_ context.Context, _ access.Principal, _ models.ResourceType, id string, expect *int) (*models.Record, error) {
	return m.writeFn(writeCall{op: "restore", id: id, expect: expect})
}

func (m *mockResourceService) Delete(_ context.Context, _ access.Principal, _ models.ResourceType, id string, expect *int) (*models.Record, error) {
	return m.writeFn(writeCall{op: "delete", id: id, expect: expect})
}

type mockPinger struct{ err error }

func (m mockPinger) HealthCheck(context.Context) error { return m.err }

type mockSchema struct{ missing map[string]bool }

func (m mockSchema) Require(_ context.Context, table string, _ ...models.Column) error {
	if m.missing[table] {
		return models.ErrSchemaUnsupported
	}
	return nil
}

type mockCounter int

func (m mockCounter) ClientCount() int { return int(m) }
