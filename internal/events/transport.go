package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estatedesk/crm/internal/models"
)

// Transport delivers a named event to one audience.
type Transport interface {
	SendToUser(ctx context.Context, userID, event string, payload []byte) error
	SendToTeam(ctx context.Context, teamID, event string, payload []byte) error
	SendToBroker(ctx context.Context, brokerID, event string, payload []byte) error
}

// Payload is the JSON body delivered with every mutation event.
type Payload struct {
	EntityType models.ResourceType `json:"entity_type"`
	EntityID   string              `json:"entity_id"`
	Action     models.Action       `json:"action"`
	Version    int                 `json:"version"`
	Data       any                 `json:"data,omitempty"`
}

// Encode marshals evt into its wire payload.
func Encode(evt models.MutationEvent) ([]byte, error) {
	data, err := json.Marshal(Payload{
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Action:     evt.Action,
		Version:    evt.Version,
		Data:       evt.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", evt.Name(), err)
	}

	return data, nil
}

// send routes one delivery to the transport method for a's tier.
func send(ctx context.Context, t Transport, a Audience, event string, payload []byte) error {
	switch a.Tier {
	case TierUser:
		return t.SendToUser(ctx, a.ID, event, payload)
	case TierTeam:
		return t.SendToTeam(ctx, a.ID, event, payload)
	case TierBroker:
		return t.SendToBroker(ctx, a.ID, event, payload)
	}

	return fmt.Errorf("unknown audience tier %q", a.Tier)
}
