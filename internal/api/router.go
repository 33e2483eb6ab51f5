package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/domain"
	"github.com/estatedesk/crm/internal/middleware"
	"github.com/estatedesk/crm/internal/models"
	"github.com/estatedesk/crm/internal/security"
	"github.com/estatedesk/crm/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log           *logrus.Logger
	Pool          Pinger
	Schema        SchemaChecker
	Hub           *ws.Hub
	Resources     domain.ResourceService
	Validator     domain.PrincipalValidator
	CORSOrigins   []string
	Version       string
	SchemaVersion int
}

// Router-level limits.
const (
	maxBodySize = 1 << 20 // 1 MB
	rateLimit   = 50      // requests per second per user or IP
	rateBurst   = 100     // token bucket burst size
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "If-Match"},
		ExposeHeaders:    []string{"ETag", "X-Request-ID"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.PrometheusMiddleware())
}

// NewMetricsHandler serves Prometheus metrics on the dedicated metrics listener.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Pool, deps.Schema, deps.Hub, log, deps.Version, deps.SchemaVersion)

	// Health and readiness are unauthenticated.
	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	limiter := middleware.NewRateLimiter(ctx, rateLimit, rateBurst)
	guard := security.NewBruteForceGuard(ctx, log)

	// The WebSocket endpoint authenticates its own upgrade.
	api.GET("/ws", limiter.Handler(), wsHandler(ctx, log, deps.Hub, deps.CORSOrigins, deps.Validator, guard))

	// All other API routes require authentication.
	authed := api.Group("", middleware.AuthMiddleware(deps.Validator, guard, log), limiter.Handler())

	for _, rt := range models.ResourceTypes() {
		NewResourceHandler(deps.Resources, rt, log).Register(authed)
	}
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r
}
