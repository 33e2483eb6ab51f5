// Package domain defines the canonical service interfaces shared across API
// layers (REST, WebSocket, client). Consumers should depend on these
// interfaces rather than re-declaring equivalent ones.
package domain

import (
	"context"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

// ResourceStore is scoped data access for every resource type.
type ResourceStore interface {
	FindAll(ctx context.Context, p access.Principal, scope access.Scope, rt models.ResourceType, f models.ListFilters) (*models.ListResult, error)
	FindByID(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error)
	Create(ctx context.Context, p access.Principal, rt models.ResourceType, m models.Mutation) (*models.Record, error)
	Update(ctx context.Context, p access.Principal, rt models.ResourceType, id string, m models.Mutation) (*models.Record, error)
	Archive(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)
	Restore(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)
	Delete(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)
}

// ResourceService defines the operations exposed to API layers. List takes
// the raw requested scope; an empty string means the role's default.
type ResourceService interface {
	List(ctx context.Context, p access.Principal, rt models.ResourceType, scope string, f models.ListFilters) (*models.ListResult, error)
	Get(ctx context.Context, p access.Principal, rt models.ResourceType, id string) (*models.Record, error)
	Create(ctx context.Context, p access.Principal, rt models.ResourceType, m models.Mutation) (*models.Record, error)
	Update(ctx context.Context, p access.Principal, rt models.ResourceType, id string, m models.Mutation) (*models.Record, error)
	Archive(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)
	Restore(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)
	Delete(ctx context.Context, p access.Principal, rt models.ResourceType, id string, expect *int) (*models.Record, error)
}

// EventEmitter queues mutation events for fan-out. Emit must not block.
type EventEmitter interface {
	Emit(evt models.MutationEvent, p access.Principal, isPrivate bool)
}

// PrincipalValidator resolves a bearer token to the principal it names.
type PrincipalValidator interface {
	Validate(ctx context.Context, token string) (access.Principal, error)
}
