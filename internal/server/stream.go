package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/protomake/pulse/internal/notify"
)

// errListenerBacklog is returned to the registry when a client cannot drain
// its buffer; delivery to that client is dropped, the rest are unaffected.
var errListenerBacklog = errors.New("listener backlog full")

// handleEvents turns one HTTP request into a subscription for the lifetime
// of that request, translating registry events into SSE frames. Each
// publish yields exactly one data frame; heartbeats are comment frames that
// clients must ignore. Reconnection is the client's problem: on reconnect
// it must assume missed events and reconcile via the job status endpoint
// first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	query := r.URL.Query()
	key := notify.Key(query.Get("projectId"), query.Get("userId"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Buffered so a publish never blocks the registry on a stalled client.
	events := make(chan notify.Event, 16)
	closed := make(chan struct{})
	var closeOnce sync.Once

	unsubscribe := s.registry.Subscribe(key, &notify.Listener{
		Send: func(event notify.Event) error {
			select {
			case events <- event:
				return nil
			default:
				return errListenerBacklog
			}
		},
		Close: func() {
			closeOnce.Do(func() { close(closed) })
		},
	})

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)

	// Teardown must run exactly once regardless of which path triggered
	// it: client abort, server-side close, or a failed write.
	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			heartbeat.Stop()
			unsubscribe()
			closeOnce.Do(func() { close(closed) })
			logger.Debug().Str("channel", string(key)).Msg("Stream closed")
		})
	}
	defer teardown()

	// Initial connectivity frame so the client knows the subscription is
	// live before the first heartbeat.
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	logger.Info().Str("channel", string(key)).Msg("Stream opened")

	for {
		select {
		case <-r.Context().Done():
			return

		case <-closed:
			return

		case <-heartbeat.C:
			// Comment frame, no payload; exists purely to keep
			// intermediary proxies from timing the connection out.
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
