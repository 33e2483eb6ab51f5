package ws

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/events"
)

var errAudienceChanged = errors.New("token no longer names the same audiences")

const (
	writeTimeout         = 10 * time.Second
	wsReadLimit          = 4096
	clientSendBuffer     = 256
	maxConnLifetime      = 4 * time.Hour
	tokenRefreshInterval = 15 * time.Minute
	tokenRefreshTimeout  = 10 * time.Second
	pingInterval         = 30 * time.Second
	pingTimeout          = 10 * time.Second
	maxMissedPongs       = int32(2)
	recentMutations      = 32
)

// PrincipalValidator resolves a bearer token to the principal it names.
type PrincipalValidator interface {
	Validate(ctx context.Context, token string) (access.Principal, error)
}

// Client is one WebSocket connection subscribed to the audiences of its
// principal: the user, their team and their brokerage.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	log       *logrus.Entry
	principal access.Principal
	// keys is fixed for the connection's life; a token refresh that would
	// change it closes the connection instead.
	keys        []string
	token       string
	validator   PrincipalValidator
	closeOnce   sync.Once
	connectedAt time.Time
	// recent holds the last mutation keys delivered live. Run goroutine only.
	recent     [recentMutations]string
	recentNext int
}

// NewClient creates a new Client for the given WebSocket connection.
func NewClient(hub *Hub, conn *websocket.Conn, p access.Principal, validator PrincipalValidator, token string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, clientSendBuffer),
		log:         hub.log.WithFields(logrus.Fields{"user_id": p.ID, "role": p.Role}),
		principal:   p,
		keys:        audienceKeys(p),
		token:       token,
		validator:   validator,
		connectedAt: time.Now(),
	}
}

// UserID returns the ID of the connected user.
func (c *Client) UserID() string {
	return c.principal.ID
}

func (c *Client) subscribes(key string) bool {
	return slices.Contains(c.keys, key)
}

// delivered reports whether the mutation behind key already reached c
// through another audience, recording it otherwise.
func (c *Client) delivered(key string) bool {
	if key == "" {
		return false
	}
	if slices.Contains(c.recent[:], key) {
		return true
	}
	c.recent[c.recentNext] = key
	c.recentNext = (c.recentNext + 1) % len(c.recent)

	return false
}

// audienceKeys lists every audience a principal receives events for. Only
// roles that may read brokerage scope subscribe to the broker tier.
func audienceKeys(p access.Principal) []string {
	auds := events.Audiences(p, false)
	keys := make([]string, 0, len(auds))
	for _, a := range auds {
		if a.Tier == events.TierBroker && !access.Permits(p.Role, access.ScopeBrokerage) {
			continue
		}
		keys = append(keys, a.Key())
	}

	return keys
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// trySend queues msg without blocking; a full queue drops it.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ReadPump reads client messages until the connection closes, then
// unregisters the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown
	}()

	c.conn.SetReadLimit(wsReadLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.log.WithField("status", status).Debug("client disconnected")
			}

			return
		}

		c.handleMessage(data)
	}
}

// handleMessage answers a subscribe with replay, or a reset when the
// requested history is gone, followed by an acknowledgement.
func (c *Client) handleMessage(data []byte) {
	var msg SubscribeMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "subscribe" {
		return
	}

	if !c.hub.ReplayEvents(c, msg.LastEventID) {
		if reset, err := json.Marshal(ResetMsg{
			Type:   "reset",
			Reason: "requested events no longer available, perform full refresh",
		}); err == nil {
			c.trySend(reset)
		}
	}

	if ack, err := json.Marshal(SubscribedMsg{
		Type:        "subscribed",
		Audiences:   c.keys,
		LastEventID: c.hub.seq.Current(),
	}); err == nil {
		c.trySend(ack)
	}
}

// WritePump delivers queued messages and owns the connection's timers:
// keepalive pings, token re-validation and the lifetime cap.
func (c *Client) WritePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	lifetime := time.NewTimer(time.Until(c.connectedAt.Add(maxConnLifetime)))
	defer lifetime.Stop()

	refresh := time.NewTicker(tokenRefreshInterval)
	defer refresh.Stop()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	var missed atomic.Int32

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(ctx, msg); err != nil {
				c.log.WithError(err).Debug("write failed")
				return
			}

		case <-ping.C:
			if c.missedPong(ctx, &missed) {
				c.log.Debugf("closing: %d consecutive missed pongs", maxMissedPongs)
				return
			}

		case <-refresh.C:
			if err := c.revalidate(ctx); err != nil {
				c.log.WithError(err).Info("closing WebSocket: token refresh failed")
				c.closeWith(websocket.StatusPolicyViolation, "authentication expired")
				return
			}

		case <-lifetime.C:
			c.log.Info("closing WebSocket: max connection lifetime exceeded")
			c.closeWith(websocket.StatusNormalClosure, "max connection lifetime exceeded")
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return c.conn.Write(writeCtx, websocket.MessageText, msg)
}

func (c *Client) closeWith(status websocket.StatusCode, reason string) {
	c.conn.Close(status, reason) //nolint:errcheck // best-effort
}

// missedPong pings the peer and reports whether too many pongs are missing.
func (c *Client) missedPong(ctx context.Context, missed *atomic.Int32) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := c.conn.Ping(pingCtx)
	cancel()

	if err != nil {
		return missed.Add(1) >= maxMissedPongs
	}

	missed.Store(0)

	return false
}

// revalidate checks the token again. It fails once the token has expired
// or when it now resolves to a principal with different audiences, such as
// a user moved to another team.
func (c *Client) revalidate(ctx context.Context) error {
	if c.validator == nil {
		return nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, tokenRefreshTimeout)
	defer cancel()

	p, err := c.validator.Validate(refreshCtx, c.token)
	if err != nil {
		return err
	}
	if !slices.Equal(audienceKeys(p), c.keys) {
		return errAudienceChanged
	}

	return nil
}
