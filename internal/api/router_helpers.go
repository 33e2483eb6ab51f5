package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/domain"
	"github.com/estatedesk/crm/internal/middleware"
	"github.com/estatedesk/crm/internal/ws"
)

var errRangeInverted = errors.New("to must not be before from")

func invalidParam(name, reason string) error {
	return fmt.Errorf("invalid %s: %s", name, reason)
}

// wsHandler upgrades an authenticated request to a WebSocket. Browsers cannot
// set headers on the upgrade, so the token may also arrive as ?access_token=.
func wsHandler(
	appCtx context.Context, log *logrus.Logger, hub *ws.Hub, corsOrigins []string,
	validator domain.PrincipalValidator, guard middleware.FailureGuard,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := middleware.ExtractBearerToken(c)
		if token == "" {
			token = c.Query("access_token")
		}

		if token == "" {
			respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing token")

			return
		}

		ip := c.ClientIP()
		if guard.IsBlocked(ip) {
			respondError(c, http.StatusTooManyRequests, ErrCodeTooManyFailures, "too many failed authentication attempts")

			return
		}

		p, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			guard.RecordFailure(ip)
			log.WithError(err).WithField("client_ip", ip).Warn("websocket authentication failed")
			respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")

			return
		}

		// CORS origins are reused as WebSocket origin patterns. The config
		// validator ensures these are safe host patterns (no wildcards etc.).
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       corsOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			log.WithError(err).Error("websocket accept failed")

			return
		}

		client := ws.NewClient(hub, conn, p, validator, token)
		hub.Register(client)

		// Derive a context that cancels when either the server shuts down or the request ends.
		wsCtx, wsCancel := context.WithCancel(appCtx)
		go func() {
			select {
			case <-c.Request.Context().Done():
				wsCancel()
			case <-wsCtx.Done():
			}
		}()

		go client.WritePump(wsCtx)
		client.ReadPump(wsCtx)
		wsCancel()
	}
}

func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if rid, exists := c.Get(middleware.RequestIDKey); exists {
			fields["request_id"] = rid
		}
		if uid := c.GetString("user_id"); uid != "" {
			fields["user_id"] = uid
		}
		log.WithFields(fields).Info("request")
	}
}

// maxPage caps the page number so offsets stay bounded.
const maxPage = 10000

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}

	if v > maxPage {
		return maxPage
	}

	return v
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}

	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, invalidParam("archived", "must be a boolean")
	}

	return v, nil
}

// validatePathID checks that a path parameter is a UUID.
func validatePathID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("id must be a UUID")
	}
	return nil
}
