// Command crm-server runs the CRM HTTP API, WebSocket hub and event fan-out.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/api"
	"github.com/estatedesk/crm/internal/config"
	"github.com/estatedesk/crm/internal/db"
	"github.com/estatedesk/crm/internal/db/migrations"
	"github.com/estatedesk/crm/internal/dbpool"
	"github.com/estatedesk/crm/internal/events"
	"github.com/estatedesk/crm/internal/middleware"
	"github.com/estatedesk/crm/internal/service"
	"github.com/estatedesk/crm/internal/store"
	"github.com/estatedesk/crm/internal/ws"
)

const shutdownTimeout = 30 * time.Second

// envFile is the dotenv file read before configuration, ".env" unless
// CRM_ENV_FILE names another.
func envFile() string {
	if p := os.Getenv("CRM_ENV_FILE"); p != "" {
		return p
	}

	return ".env"
}

func main() {
	log := logrus.New()

	if loaded, err := config.LoadEnvFile(envFile()); err != nil {
		log.WithError(err).Fatal("loading env file")
	} else if loaded {
		log.Info("loaded environment from file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}

	configureLogger(log, cfg)

	if err := run(log, cfg); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func configureLogger(log *logrus.Logger, cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}

//nolint:funlen // Wiring is sequential; splitting would hurt readability.
func run(log *logrus.Logger, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx, cfg.DatabaseURL.Value(), log, migrations.FS); err != nil {
		return err
	}

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value(), cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	schema := store.NewSchemaCache(pool)
	resources := store.NewResourceStore(store.Base{DB: pool, Log: log, Schema: schema})

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	var transport events.Transport = hub
	if url := cfg.RedisURL.Value(); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("parsing REDIS_URL: %w", err)
		}

		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}

		// Every instance publishes to Redis and delivers only what the relay
		// hands back, so local clients see each event once.
		transport = events.NewRedisTransport(rdb)
		relay := events.NewRedisRelay(rdb, hub, log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("redis relay stopped")
			}
		}()
		log.Info("cross-instance event fan-out enabled")
	}

	dispatcher := events.NewDispatcher(transport, log, cfg.EventQueueSize)
	dispatcherDone := make(chan struct{})
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(dispatchCtx)
	}()

	validator, err := middleware.NewJWTValidator(cfg.JWTSecret.Value(), cfg.JWTIssuer)
	if err != nil {
		stopDispatch()
		return err
	}

	svc := service.NewResourceService(resources, dispatcher, log)

	router := api.NewRouter(ctx, &api.RouterDeps{
		Log:           log,
		Pool:          pool,
		Schema:        schema,
		Hub:           hub,
		Resources:     svc,
		Validator:     validator,
		CORSOrigins:   cfg.CORSOrigins,
		Version:       config.Version,
		SchemaVersion: db.SchemaVersion(),
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           api.NewMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 2)

	go func() {
		log.WithField("addr", server.Addr).Info("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	go func() {
		log.WithField("addr", metricsServer.Addr).Info("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err = <-serveErr:
		log.WithError(err).Error("listener failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Tell WebSocket clients to reconnect before the listener closes.
	hub.Shutdown()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Error("API server forced to shutdown")
	}
	if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Error("metrics server forced to shutdown")
	}

	// Requests are finished; flush queued events before closing transports.
	stopDispatch()
	<-dispatcherDone

	log.Info("server exited")

	return err
}
