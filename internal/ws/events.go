package ws

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"
)

// Event is the structured message sent to WebSocket clients.
type Event struct {
	Type     string          `json:"type"`
	ID       uint64          `json:"id"`
	Audience string          `json:"audience"`
	Data     json.RawMessage `json:"data"`
	Time     time.Time       `json:"time"`

	dedup string
}

// mutationKey identifies the mutation an event announces, so a client in
// several of its audiences gets it once. Payloads without an entity_id
// have no key and are never collapsed.
func mutationKey(eventType string, payload []byte) string {
	var m struct {
		EntityID string `json:"entity_id"`
		Version  int    `json:"version"`
	}
	if err := json.Unmarshal(payload, &m); err != nil || m.EntityID == "" {
		return ""
	}

	return eventType + "|" + m.EntityID + "|" + strconv.Itoa(m.Version)
}

// SubscribeMsg is sent by the client on connect to request event replay.
type SubscribeMsg struct {
	Type        string `json:"type"`
	LastEventID uint64 `json:"last_event_id"`
}

// ResetMsg tells the client to do a full refresh (requested events too old).
type ResetMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// SubscribedMsg acknowledges a subscribe with the audiences the connection
// receives and the newest event ID it has seen.
type SubscribedMsg struct {
	Type        string   `json:"type"`
	Audiences   []string `json:"audiences"`
	LastEventID uint64   `json:"last_event_id"`
}

// EventSequence hands out event IDs. IDs are global so a client subscribed
// to several audiences can resume from a single last_event_id.
type EventSequence struct {
	n atomic.Uint64
}

// NewEventSequence creates a new EventSequence.
func NewEventSequence() *EventSequence {
	return &EventSequence{}
}

// Next returns the next event ID.
func (es *EventSequence) Next() uint64 {
	return es.n.Add(1)
}

// Current returns the most recently issued event ID.
func (es *EventSequence) Current() uint64 {
	return es.n.Load()
}
