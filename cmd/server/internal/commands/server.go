package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	httpmiddleware "github.com/protomake/pulse/internal/http"
	"github.com/protomake/pulse/internal/logger"
	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/server"
	"github.com/protomake/pulse/internal/store"
	memorystore "github.com/protomake/pulse/internal/store/memory"
	postgresstore "github.com/protomake/pulse/internal/store/postgres"
	"github.com/protomake/pulse/internal/telemetry"
	"github.com/protomake/pulse/internal/worker"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"PULSE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"PULSE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"PULSE_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"PULSE_CORS_ORIGINS"`

	// Notification fabric configuration
	WebhookSecret     string        `help:"shared secret for worker completion callbacks" env:"PULSE_WEBHOOK_SECRET"`
	HeartbeatInterval time.Duration `help:"event stream heartbeat interval" default:"15s" env:"PULSE_HEARTBEAT_INTERVAL"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"PULSE_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"PULSE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	// Development helpers
	SeedProjects map[string]string `help:"seed project ownership records as projectId=ownerId pairs (development only)" env:"PULSE_SEED_PROJECTS"`
	InlineWorker InlineWorkerFlags `embed:"" prefix:"worker-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"PULSE_POSTGRES_AUTO_MIGRATE"`
}

// InlineWorkerFlags runs the generation worker inside the server process.
// Production deployments run workers separately; this exists so a single
// binary exercises the whole notify path in development.
type InlineWorkerFlags struct {
	Enabled      bool          `help:"run the generation worker in-process" default:"false" env:"PULSE_WORKER_ENABLED"`
	PollInterval time.Duration `help:"worker poll interval" default:"1s" env:"PULSE_WORKER_POLL_INTERVAL"`
	CallbackURL  string        `help:"completion webhook URL the worker calls back to" default:"http://127.0.0.1:8080/hooks/generation" env:"PULSE_WORKER_CALLBACK_URL"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.WebhookSecret == "" {
		log.Warn().Msg("No webhook secret configured, completion callbacks will be refused")
	}

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "pulse-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var (
		jobStore     worker.JobQueue
		reportStore  store.ReportStore
		projectStore store.ProjectStore
	)

	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		jobStore = postgresstore.NewJobStore(pool)
		reportStore = postgresstore.NewReportStore(pool)
		projectStore = postgresstore.NewProjectStore(pool)
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		memProjects := memorystore.NewProjectStore()
		jobStore = memorystore.NewJobStore(memProjects)
		reportStore = memorystore.NewReportStore()
		projectStore = memProjects
		log.Info().Msg("Using in-memory stores")
	}

	for projectID, ownerID := range c.SeedProjects {
		if err := projectStore.PutProject(ctx, &store.Project{ID: projectID, OwnerID: ownerID}); err != nil {
			return fmt.Errorf("failed to seed project %s: %w", projectID, err)
		}
		log.Info().Str("project_id", projectID).Str("owner_id", ownerID).Msg("Seeded project")
	}

	// One registry per process, owned here and passed by reference
	registry := notify.NewRegistry()

	srv := server.NewServer(server.Config{
		WebhookSecret:     c.WebhookSecret,
		HeartbeatInterval: c.HeartbeatInterval,
	}, jobStore, reportStore, registry)

	if c.InlineWorker.Enabled {
		runner := worker.NewRunner(worker.Config{
			PollInterval:   c.InlineWorker.PollInterval,
			CallbackURL:    c.InlineWorker.CallbackURL,
			CallbackSecret: c.WebhookSecret,
		}, jobStore, reportStore, worker.EchoGenerator{})
		runner.Start()
		defer runner.Stop()
		log.Info().Dur("poll_interval", c.InlineWorker.PollInterval).Msg("Inline worker enabled")
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: c.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", server.WebhookSecretHeader},
	})

	handler := httpmiddleware.RequestLogging(log)(
		httpmiddleware.ClientIPMiddleware()(
			corsMiddleware.Handler(srv.Handler())))

	httpServer := configureHTTPServer(c.Listen, handler)

	// Graceful shutdown on SIGINT/SIGTERM
	notifyCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if c.Cert != "" && c.Key != "" {
			log.Info().Str("listen", c.Listen).Msg("Listening with TLS")
			err = httpServer.ListenAndServeTLS(c.Cert, c.Key)
		} else {
			log.Info().Str("listen", c.Listen).Msg("Listening")
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-notifyCtx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
