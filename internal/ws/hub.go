// Package ws implements the WebSocket hub that delivers mutation events to
// connected CRM users.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/events"
	"github.com/estatedesk/crm/internal/metrics"
)

// Hub channel buffer sizes.
const (
	broadcastBuffer = 256
	registerBuffer  = 64
)

// Connection caps.
const (
	maxClients        = 1000
	maxClientsPerUser = 10
)

// maxBroadcastPayload is the largest event payload the hub will deliver (64 KB).
const maxBroadcastPayload = 64 << 10

// Delivery errors.
var (
	ErrPayloadTooLarge = errors.New("event payload too large")
	ErrHubBusy         = errors.New("hub broadcast queue full")
)

var _ events.Transport = (*Hub)(nil)

// audienceBroadcast is sent through the broadcast channel to the Run goroutine.
type audienceBroadcast struct {
	key   string
	dedup string
	msg   []byte
}

// Hub manages active WebSocket clients and fans events out by audience.
// All client map mutations happen exclusively in the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	userCount  map[string]int
	register   chan *Client
	unregister chan *Client
	broadcast  chan audienceBroadcast
	shutdown   chan struct{} // signals Run to begin graceful drain
	done       chan struct{} // closed when Run has finished draining
	count      atomic.Int64
	log        *logrus.Logger
	seq        *EventSequence
	buffer     *EventBuffer
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		userCount:  make(map[string]int),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan audienceBroadcast, broadcastBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
		seq:        NewEventSequence(),
		buffer:     NewEventBuffer(defaultBufferMaxLen, defaultBufferMaxAge),
	}
}

// drainTimeout is how long the hub waits for clients to flush after shutdown.
const drainTimeout = 3 * time.Second

// Run starts the hub event loop. It should be run as a goroutine.
// It exits when Shutdown is called or the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.buffer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.drainClients()

			return
		case <-h.shutdown:
			h.drainClients()

			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}
			h.log.WithField("total", len(h.clients)).Info("client unregistered")

		case b := <-h.broadcast:
			for client := range h.clients {
				if !client.subscribes(b.key) || client.delivered(b.dedup) {
					continue
				}
				select {
				case client.send <- b.msg:
				default:
					h.log.WithField("user_id", client.UserID()).Warn("client send buffer full, disconnecting")
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) add(client *Client) {
	if len(h.clients) >= maxClients {
		h.log.Warn("global connection limit reached, dropping client")
		client.closeSend()

		return
	}

	uid := client.UserID()
	if h.userCount[uid] >= maxClientsPerUser {
		h.log.WithField("user_id", uid).Warn("per-user connection limit reached, dropping client")
		client.closeSend()

		return
	}

	h.clients[client] = true
	h.userCount[uid]++
	h.updateCount()
	h.log.WithField("total", len(h.clients)).Info("client registered")
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	client.closeSend()

	uid := client.UserID()
	h.userCount[uid]--
	if h.userCount[uid] <= 0 {
		delete(h.userCount, uid)
	}

	h.updateCount()
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// SendToUser implements events.Transport.
func (h *Hub) SendToUser(_ context.Context, userID, event string, payload []byte) error {
	return h.publish(events.Audience{Tier: events.TierUser, ID: userID}, event, payload)
}

// SendToTeam implements events.Transport.
func (h *Hub) SendToTeam(_ context.Context, teamID, event string, payload []byte) error {
	return h.publish(events.Audience{Tier: events.TierTeam, ID: teamID}, event, payload)
}

// SendToBroker implements events.Transport.
func (h *Hub) SendToBroker(_ context.Context, brokerID, event string, payload []byte) error {
	return h.publish(events.Audience{Tier: events.TierBroker, ID: brokerID}, event, payload)
}

// publish assigns a sequence ID, buffers the event for replay and queues it
// for the Run goroutine. It never blocks.
func (h *Hub) publish(a events.Audience, eventType string, payload []byte) error {
	if len(payload) > maxBroadcastPayload {
		h.log.WithFields(logrus.Fields{
			"audience":     a.Key(),
			"payload_size": len(payload),
			"max_size":     maxBroadcastPayload,
		}).Warn("dropping oversized event payload")

		return ErrPayloadTooLarge
	}

	evt := Event{
		Type:     eventType,
		ID:       h.seq.Next(),
		Audience: a.Key(),
		Data:     payload,
		Time:     time.Now(),
		dedup:    mutationKey(eventType, payload),
	}

	msg, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}

	h.buffer.Append(evt.Audience, &evt)

	select {
	case h.broadcast <- audienceBroadcast{key: evt.Audience, dedup: evt.dedup, msg: msg}:
		return nil
	default:
		return ErrHubBusy
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
		// Run loop already exited; client cleanup happened in Run shutdown.
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Shutdown initiates a graceful WebSocket drain: sends a shutdown frame to
// every connected client, waits for their write pumps to flush, then closes
// all connections. It blocks until drain is complete or the timeout expires.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

// drainClients sends a close frame to every client and waits for buffers to flush.
func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining WebSocket clients")

	// Send shutdown notification so clients know to reconnect.
	shutdownMsg := []byte(`{"type":"shutdown","message":"server shutting down"}`)
	for client := range h.clients {
		select {
		case client.send <- shutdownMsg:
		default:
		}
	}

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		allDrained := true
		for client := range h.clients {
			if len(client.send) > 0 {
				allDrained = false
				break
			}
		}

		if allDrained {
			break
		}

		select {
		case <-deadline:
			h.log.Warn("WebSocket drain timeout, closing remaining clients")
			break wait
		case <-ticker.C:
		}
	}

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}

	h.userCount = make(map[string]int)
	h.updateCount()
}

// ReplayEvents sends the buffered events of every audience the client
// belongs to, in ID order, once per mutation. Returns false if events after lastEventID may have
// been evicted, in which case the client must do a full refresh.
func (h *Hub) ReplayEvents(client *Client, lastEventID uint64) bool {
	var merged []Event

	complete := true
	for _, key := range client.keys {
		evs, ok := h.buffer.Since(key, lastEventID)
		if !ok {
			complete = false
		}
		merged = append(merged, evs...)
	}

	if lastEventID > 0 && !complete {
		return false
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })

	seen := make(map[string]bool, len(merged))
	for _, evt := range merged {
		if evt.dedup != "" {
			if seen[evt.dedup] {
				continue
			}
			seen[evt.dedup] = true
		}
		msg, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		select {
		case client.send <- msg:
		default:
			return true // channel full, stop replay
		}
	}

	return true
}
