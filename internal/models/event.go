package models

// Action is the kind of change a mutation event reports.
type Action string

// Mutation actions.
const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionArchived Action = "archived"
	ActionRestored Action = "restored"
	ActionDeleted  Action = "deleted"
)

// MutationEvent describes a committed change to one record.
type MutationEvent struct {
	EntityType ResourceType
	EntityID   string
	Action     Action
	Version    int
	Payload    any
}

// Name returns the event name, e.g. "lead.updated".
func (e MutationEvent) Name() string {
	return string(e.EntityType) + "." + string(e.Action)
}
