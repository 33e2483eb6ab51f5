package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
)

// authTimingFloor is the minimum response time for rejected requests so
// timing does not distinguish malformed tokens from badly signed ones.
const authTimingFloor = 50 * time.Millisecond

// principalKey is the gin context key holding the authenticated principal.
const principalKey = "principal"

// PrincipalValidator resolves a bearer token to a principal.
type PrincipalValidator interface {
	Validate(ctx context.Context, token string) (access.Principal, error)
}

// FailureGuard locks out clients that keep presenting bad tokens. A valid
// token does not clear earlier failures; they age out of the guard's window.
type FailureGuard interface {
	IsBlocked(source string) bool
	RecordFailure(source string)
}

// enforceTimingFloor sleeps if needed so the response takes at least authTimingFloor.
func enforceTimingFloor(start time.Time) {
	if elapsed := time.Since(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}

// AuthMiddleware returns Gin middleware that authenticates requests via Bearer token.
// guard may be nil.
func AuthMiddleware(validator PrincipalValidator, guard FailureGuard, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		token := ExtractBearerToken(c)
		if token == "" {
			respondError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization header")
			return
		}

		ip := c.ClientIP()
		if guard != nil && guard.IsBlocked(ip) {
			c.Header("Retry-After", "300")
			respondError(c, http.StatusTooManyRequests, "too_many_failures", "too many failed authentication attempts")
			return
		}

		p, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			if guard != nil {
				guard.RecordFailure(ip)
			}
			logAuthFailure(log, c, err)
			respondError(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// SetPrincipal stores p on the request context.
func SetPrincipal(c *gin.Context, p access.Principal) {
	c.Set(principalKey, p)
	c.Set("user_id", p.ID)
}

// PrincipalFrom returns the principal set by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (access.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return access.Principal{}, false
	}

	p, ok := v.(access.Principal)

	return p, ok
}

// ExtractBearerToken extracts the token from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// logAuthFailure logs a failed authentication attempt.
func logAuthFailure(log *logrus.Logger, c *gin.Context, err error) {
	log.WithFields(logrus.Fields{
		"client_ip":  c.ClientIP(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"user_agent": c.Request.UserAgent(),
		"request_id": c.GetString("request_id"),
		"reason":     err.Error(),
	}).Warn("authentication failed")
}
