package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ChannelPrefix namespaces every pub/sub channel, e.g. "crm:events:team:<id>".
const ChannelPrefix = "crm:events:"

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func channel(tier Tier, id string) string {
	return ChannelPrefix + string(tier) + ":" + id
}

func parseChannel(ch string) (Audience, bool) {
	rest, ok := strings.CutPrefix(ch, ChannelPrefix)
	if !ok {
		return Audience{}, false
	}

	tier, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return Audience{}, false
	}

	switch Tier(tier) {
	case TierUser, TierTeam, TierBroker:
		return Audience{Tier: Tier(tier), ID: id}, true
	}

	return Audience{}, false
}

// RedisTransport publishes events so every server instance can deliver them
// to its own WebSocket clients.
type RedisTransport struct {
	rdb *redis.Client
}

// NewRedisTransport creates a RedisTransport.
func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{rdb: rdb}
}

// SendToUser implements Transport.
func (t *RedisTransport) SendToUser(ctx context.Context, userID, event string, payload []byte) error {
	return t.publish(ctx, TierUser, userID, event, payload)
}

// SendToTeam implements Transport.
func (t *RedisTransport) SendToTeam(ctx context.Context, teamID, event string, payload []byte) error {
	return t.publish(ctx, TierTeam, teamID, event, payload)
}

// SendToBroker implements Transport.
func (t *RedisTransport) SendToBroker(ctx context.Context, brokerID, event string, payload []byte) error {
	return t.publish(ctx, TierBroker, brokerID, event, payload)
}

func (t *RedisTransport) publish(ctx context.Context, tier Tier, id, event string, payload []byte) error {
	msg, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	if err := t.rdb.Publish(ctx, channel(tier, id), msg).Err(); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", event, channel(tier, id), err)
	}

	return nil
}

// RedisRelay subscribes to every event channel and hands messages to the
// local transport.
type RedisRelay struct {
	rdb   *redis.Client
	local Transport
	log   *logrus.Logger
	ready chan struct{}
}

// NewRedisRelay creates a relay feeding local.
func NewRedisRelay(rdb *redis.Client, local Transport, log *logrus.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, local: local, log: log, ready: make(chan struct{})}
}

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run relays messages until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s*: %w", ChannelPrefix, err)
	}
	close(r.ready)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, msg *redis.Message) {
	a, ok := parseChannel(msg.Channel)
	if !ok {
		r.log.WithField("channel", msg.Channel).Warn("ignoring message on unknown channel")
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.WithError(err).WithField("channel", msg.Channel).Warn("ignoring malformed event")
		return
	}

	if err := send(ctx, r.local, a, env.Event, env.Payload); err != nil {
		r.log.WithError(err).WithField("audience", a.Key()).Warn("local delivery failed")
	}
}
