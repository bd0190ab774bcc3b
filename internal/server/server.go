package server

import (
	"net/http"
	"time"

	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/store"
)

// DefaultHeartbeatInterval is how often the streaming transport emits a
// comment frame to defeat idle-connection timeouts in intermediary proxies.
const DefaultHeartbeatInterval = 15 * time.Second

// Config holds the notification fabric's server settings.
type Config struct {
	// WebhookSecret authenticates completion callbacks from the generation
	// worker. The webhook endpoint refuses all traffic when empty.
	WebhookSecret string

	// HeartbeatInterval overrides DefaultHeartbeatInterval when positive.
	HeartbeatInterval time.Duration
}

// Server wires the job store, report store and channel registry into HTTP
// handlers. The registry is constructed once at startup and shared by
// reference; the server never owns any other mutable state.
type Server struct {
	cfg      Config
	jobs     store.JobStore
	reports  store.ReportStore
	registry *notify.Registry
}

// NewServer creates a server over the given stores and registry.
func NewServer(cfg Config, jobs store.JobStore, reports store.ReportStore, registry *notify.Registry) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		reports:  reports,
		registry: registry,
	}
}

// Handler returns the fabric's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{jobId}", s.handleJobStatus)
	mux.HandleFunc("POST /hooks/generation", s.handleGenerationWebhook)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}
