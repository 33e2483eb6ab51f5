package events

import (
	"context"
	"errors"
	"sync"
)

type delivery struct {
	Audience Audience
	Event    string
	Payload  []byte
}

// fakeTransport records deliveries. Tiers listed in fail return an error,
// tiers listed in panics panic.
type fakeTransport struct {
	mu     sync.Mutex
	got    []delivery
	fail   map[Tier]bool
	panics map[Tier]bool
	notify chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: map[Tier]bool{}, panics: map[Tier]bool{}, notify: make(chan struct{}, 100)}
}

func (f *fakeTransport) record(tier Tier, id, event string, payload []byte) error {
	if f.panics[tier] {
		panic("transport exploded")
	}
	if f.fail[tier] {
		return errors.New("transport unavailable")
	}

	f.mu.Lock()
	f.got = append(f.got, delivery{Audience: Audience{Tier: tier, ID: id}, Event: event, Payload: payload})
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}

	return nil
}

func (f *fakeTransport) SendToUser(_ context.Context, id, event string, payload []byte) error {
	return f.record(TierUser, id, event, payload)
}

func (f *fakeTransport) SendToTeam(_ context.Context, id, event string, payload []byte) error {
	return f.record(TierTeam, id, event, payload)
}

func (f *fakeTransport) SendToBroker(_ context.Context, id, event string, payload []byte) error {
	return f.record(TierBroker, id, event, payload)
}

func (f *fakeTransport) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.got...)
}
