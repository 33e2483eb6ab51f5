package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
)

func strPtr(s string) *string { return &s }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func testClient(h *Hub, p access.Principal) *Client {
	return &Client{
		hub:       h,
		send:      make(chan []byte, clientSendBuffer),
		log:       logrus.NewEntry(h.log),
		principal: p,
		keys:      audienceKeys(p),
	}
}

func waitForCount(t *testing.T, h *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("decoding event: %v", err)
		}

		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()

	h := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	return h
}

func TestHub_RoutesByAudience(t *testing.T) {
	h := startHub(t)

	alice := testClient(h, access.Principal{ID: "alice", Role: access.RoleAgent, TeamID: strPtr("t1"), BrokerID: strPtr("b1")})
	carol := testClient(h, access.Principal{ID: "carol", Role: access.RoleAgent, TeamID: strPtr("t2"), BrokerID: strPtr("b1")})
	dave := testClient(h, access.Principal{ID: "dave", Role: access.RoleAgent, TeamID: strPtr("t3"), BrokerID: strPtr("b2")})

	for _, c := range []*Client{alice, carol, dave} {
		h.Register(c)
	}
	waitForCount(t, h, 3)

	ctx := context.Background()

	if err := h.SendToTeam(ctx, "t1", "lead.created", []byte(`{"entity_id":"l1"}`)); err != nil {
		t.Fatalf("SendToTeam: %v", err)
	}

	evt := receive(t, alice)
	if evt.Type != "lead.created" || evt.Audience != "team:t1" {
		t.Errorf("got %+v", evt)
	}
	if string(evt.Data) != `{"entity_id":"l1"}` {
		t.Errorf("Data = %s", evt.Data)
	}
	expectNothing(t, carol)
	expectNothing(t, dave)

	if err := h.SendToUser(ctx, "carol", "escrow.updated", []byte(`{}`)); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	receive(t, carol)
	expectNothing(t, alice)
	expectNothing(t, dave)

	if err := h.SendToUser(ctx, "dave", "client.archived", []byte(`{}`)); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	if got := receive(t, dave); got.Audience != "user:dave" {
		t.Errorf("Audience = %q", got.Audience)
	}
	expectNothing(t, alice)
}

func TestHub_RejectsOversizedPayload(t *testing.T) {
	h := NewHub(quietLogger())
	defer h.buffer.Stop()

	payload := []byte(`"` + strings.Repeat("x", maxBroadcastPayload) + `"`)

	err := h.SendToUser(context.Background(), "alice", "lead.updated", payload)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
	if n := h.buffer.Len("user:alice"); n != 0 {
		t.Errorf("buffered %d events, want 0", n)
	}
}

func TestHub_BusyWhenBroadcastQueueFull(t *testing.T) {
	h := NewHub(quietLogger())
	defer h.buffer.Stop()

	// No Run loop, so the broadcast channel fills up.
	for i := 0; i < broadcastBuffer; i++ {
		if err := h.SendToUser(context.Background(), "alice", "lead.updated", []byte(`{}`)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	err := h.SendToUser(context.Background(), "alice", "lead.updated", []byte(`{}`))
	if !errors.Is(err, ErrHubBusy) {
		t.Fatalf("err = %v, want ErrHubBusy", err)
	}
}

func TestHub_PerUserLimit(t *testing.T) {
	h := startHub(t)

	p := access.Principal{ID: "alice", Role: access.RoleAgent}
	clients := make([]*Client, maxClientsPerUser+1)
	for i := range clients {
		clients[i] = testClient(h, p)
		h.Register(clients[i])
	}

	waitForCount(t, h, maxClientsPerUser)

	select {
	case _, ok := <-clients[maxClientsPerUser].send:
		if ok {
			t.Fatal("expected rejected client's send channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rejected client was not closed")
	}

	h.Unregister(clients[0])
	waitForCount(t, h, maxClientsPerUser-1)
}

func TestHub_ReplayMergesAudiences(t *testing.T) {
	h := NewHub(quietLogger())
	defer h.buffer.Stop()

	ctx := context.Background()
	p := access.Principal{ID: "alice", Role: access.RoleAgent, TeamID: strPtr("t1")}

	// IDs 1-5; alice sees 1, 2 and 4 only.
	_ = h.SendToUser(ctx, "alice", "lead.created", []byte(`{}`))
	_ = h.SendToTeam(ctx, "t1", "escrow.updated", []byte(`{}`))
	_ = h.SendToTeam(ctx, "t9", "escrow.updated", []byte(`{}`))
	_ = h.SendToUser(ctx, "alice", "lead.archived", []byte(`{}`))
	_ = h.SendToBroker(ctx, "b1", "listing.created", []byte(`{}`))

	c := testClient(h, p)
	if !h.ReplayEvents(c, 1) {
		t.Fatal("ReplayEvents reported incomplete history")
	}

	var ids []uint64
	for len(c.send) > 0 {
		ids = append(ids, receive(t, c).ID)
	}

	if len(ids) != 2 || ids[0] != 2 || ids[1] != 4 {
		t.Errorf("replayed IDs = %v, want [2 4]", ids)
	}
}

func TestHub_ReplayResetAfterEviction(t *testing.T) {
	h := NewHub(quietLogger())
	h.buffer.Stop()
	h.buffer = NewEventBuffer(2, time.Hour)
	defer h.buffer.Stop()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = h.SendToUser(ctx, "alice", "lead.updated", []byte(`{}`))
	}

	c := testClient(h, access.Principal{ID: "alice", Role: access.RoleAgent})

	if h.ReplayEvents(c, 1) {
		t.Error("expected incomplete replay after events 1-2 were evicted")
	}
	if len(c.send) != 0 {
		t.Errorf("replay sent %d events on reset", len(c.send))
	}

	if !h.ReplayEvents(c, 2) {
		t.Error("expected complete replay from event 2")
	}
	if len(c.send) != 2 {
		t.Errorf("replayed %d events, want 2", len(c.send))
	}
}

func TestHub_FreshSubscribeReplaysAll(t *testing.T) {
	h := NewHub(quietLogger())
	h.buffer.Stop()
	h.buffer = NewEventBuffer(2, time.Hour)
	defer h.buffer.Stop()

	for i := 0; i < 3; i++ {
		_ = h.SendToUser(context.Background(), "alice", "lead.updated", []byte(`{}`))
	}

	c := testClient(h, access.Principal{ID: "alice", Role: access.RoleAgent})
	if !h.ReplayEvents(c, 0) {
		t.Error("last_event_id 0 should never reset")
	}
	if len(c.send) != 2 {
		t.Errorf("replayed %d events, want 2", len(c.send))
	}
}

func TestEventBuffer_ExpiredAudience(t *testing.T) {
	eb := NewEventBuffer(10, time.Minute)
	defer eb.Stop()

	old := time.Now().Add(-2 * time.Minute)
	eb.Append("user:a", &Event{ID: 1, Time: old})
	eb.Append("user:b", &Event{ID: 2, Time: time.Now()})

	eb.evictStale(time.Now())

	if eb.Len("user:a") != 0 {
		t.Error("stale audience was not removed")
	}
	if _, complete := eb.Since("user:a", 0); complete {
		t.Error("expected incomplete history below the expired mark")
	}
	if evs, complete := eb.Since("user:b", 1); !complete || len(evs) != 1 {
		t.Errorf("Since(user:b, 1) = %d events, complete=%v", len(evs), complete)
	}
}

func TestClient_Subscribes(t *testing.T) {
	h := NewHub(quietLogger())
	defer h.buffer.Stop()

	tests := []struct {
		name string
		p    access.Principal
		want []string
	}{
		{"broker", access.Principal{ID: "u1", Role: access.RoleBroker, BrokerID: strPtr("b1")}, []string{"user:u1", "broker:b1"}},
		{"admin", access.Principal{ID: "u1", Role: access.RoleSystemAdmin, BrokerID: strPtr("b1")}, []string{"user:u1", "broker:b1"}},
		{"agent", access.Principal{ID: "u1", Role: access.RoleAgent, TeamID: strPtr("t1"), BrokerID: strPtr("b1")}, []string{"user:u1", "team:t1"}},
		{"team owner", access.Principal{ID: "u1", Role: access.RoleTeamOwner, TeamID: strPtr("t1"), BrokerID: strPtr("b1")}, []string{"user:u1", "team:t1"}},
		{"no team", access.Principal{ID: "u1", Role: access.RoleAgent, TeamID: strPtr("")}, []string{"user:u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(h, tt.p)
			if !slices.Equal(c.keys, tt.want) {
				t.Errorf("keys = %v, want %v", c.keys, tt.want)
			}
		})
	}
}

func TestHub_BrokerTierOnlyReachesBrokerageRoles(t *testing.T) {
	h := startHub(t)

	agent := testClient(h, access.Principal{ID: "a2", Role: access.RoleAgent, TeamID: strPtr("t2"), BrokerID: strPtr("b1")})
	owner := testClient(h, access.Principal{ID: "o2", Role: access.RoleTeamOwner, TeamID: strPtr("t2"), BrokerID: strPtr("b1")})
	broker := testClient(h, access.Principal{ID: "bea", Role: access.RoleBroker, BrokerID: strPtr("b1")})

	for _, c := range []*Client{agent, owner, broker} {
		h.Register(c)
	}
	waitForCount(t, h, 3)

	payload := []byte(`{"entity_id":"e1","version":1,"data":{"title":"Harbor St"}}`)
	if err := h.SendToBroker(context.Background(), "b1", "escrow.created", payload); err != nil {
		t.Fatalf("SendToBroker: %v", err)
	}

	if evt := receive(t, broker); evt.Audience != "broker:b1" {
		t.Errorf("broker got %+v", evt)
	}
	expectNothing(t, agent)
	expectNothing(t, owner)

	replayed := testClient(h, agent.principal)
	h.ReplayEvents(replayed, 0)
	if len(replayed.send) != 0 {
		t.Errorf("agent replay delivered %d broker-tier events", len(replayed.send))
	}
}

func TestHub_CollapsesMutationAcrossAudiences(t *testing.T) {
	h := startHub(t)

	alice := testClient(h, access.Principal{ID: "alice", Role: access.RoleAgent, TeamID: strPtr("t1")})
	h.Register(alice)
	waitForCount(t, h, 1)

	ctx := context.Background()
	v1 := []byte(`{"entity_id":"l1","version":1}`)
	_ = h.SendToUser(ctx, "alice", "lead.created", v1)
	_ = h.SendToTeam(ctx, "t1", "lead.created", v1)

	if evt := receive(t, alice); evt.Audience != "user:alice" {
		t.Errorf("first delivery = %+v", evt)
	}
	expectNothing(t, alice)

	v2 := []byte(`{"entity_id":"l1","version":2}`)
	_ = h.SendToTeam(ctx, "t1", "lead.updated", v2)
	if evt := receive(t, alice); evt.Type != "lead.updated" {
		t.Errorf("next version = %+v", evt)
	}

	fresh := testClient(h, alice.principal)
	h.ReplayEvents(fresh, 0)
	if len(fresh.send) != 2 {
		t.Errorf("replayed %d events, want 2", len(fresh.send))
	}
}

func TestMutationKey(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"entity_id":"l1","version":3}`, "lead.updated|l1|3"},
		{`{}`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := mutationKey("lead.updated", []byte(tt.payload)); got != tt.want {
			t.Errorf("mutationKey(%s) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestClient_SubscribeRepliesWithReplayAndAck(t *testing.T) {
	h := NewHub(quietLogger())
	h.buffer.Stop()
	h.buffer = NewEventBuffer(1, time.Hour)
	defer h.buffer.Stop()

	for i := 0; i < 3; i++ {
		_ = h.SendToUser(context.Background(), "alice", "lead.updated", []byte(`{}`))
	}
	c := testClient(h, access.Principal{ID: "alice", Role: access.RoleAgent})

	c.handleMessage([]byte(`{"type":"subscribe","last_event_id":1}`))

	var reset ResetMsg
	if err := json.Unmarshal(<-c.send, &reset); err != nil || reset.Type != "reset" {
		t.Fatalf("first message = %+v, %v", reset, err)
	}
	var ack SubscribedMsg
	if err := json.Unmarshal(<-c.send, &ack); err != nil || ack.Type != "subscribed" {
		t.Fatalf("second message = %+v, %v", ack, err)
	}
	if ack.LastEventID != 3 || len(ack.Audiences) != 1 || ack.Audiences[0] != "user:alice" {
		t.Errorf("ack = %+v", ack)
	}

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"type":"hello"}`))
	if len(c.send) != 0 {
		t.Errorf("unknown messages produced %d replies", len(c.send))
	}
}

type stubValidator struct {
	p   access.Principal
	err error
}

func (v stubValidator) Validate(context.Context, string) (access.Principal, error) {
	return v.p, v.err
}

func TestClient_Revalidate(t *testing.T) {
	h := NewHub(quietLogger())
	defer h.buffer.Stop()

	orig := access.Principal{ID: "u1", Role: access.RoleAgent, TeamID: strPtr("t1")}
	expired := errors.New("token is expired")

	tests := []struct {
		name    string
		v       PrincipalValidator
		wantErr error
	}{
		{"no validator", nil, nil},
		{"still valid", stubValidator{p: orig}, nil},
		{"role change with same audiences", stubValidator{p: access.Principal{ID: "u1", Role: access.RoleTeamOwner, TeamID: strPtr("t1")}}, nil},
		{"expired", stubValidator{err: expired}, expired},
		{"moved team", stubValidator{p: access.Principal{ID: "u1", Role: access.RoleAgent, TeamID: strPtr("t2")}}, errAudienceChanged},
		{"different user", stubValidator{p: access.Principal{ID: "u2", Role: access.RoleAgent, TeamID: strPtr("t1")}}, errAudienceChanged},
		{"promoted to broker", stubValidator{p: access.Principal{ID: "u1", Role: access.RoleBroker, TeamID: strPtr("t1"), BrokerID: strPtr("b1")}}, errAudienceChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(h, orig)
			c.validator = tt.v
			if err := c.revalidate(context.Background()); !errors.Is(err, tt.wantErr) {
				t.Errorf("revalidate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
