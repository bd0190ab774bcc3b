package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/store"
	"github.com/protomake/pulse/internal/telemetry"
)

// WebhookSecretHeader carries the shared-secret credential on completion
// callbacks from the generation worker.
const WebhookSecretHeader = "X-Webhook-Secret"

// visibility check retry budget, roughly one second in total
const (
	visibilityMaxTries        = 3
	visibilityInitialInterval = 200 * time.Millisecond
	visibilityMaxInterval     = 500 * time.Millisecond
)

// webhookRequest is the completion callback body sent by the worker once a
// generated report row has been committed.
type webhookRequest struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	ReportID  string `json:"reportId"`
	Status    string `json:"status"`
}

// webhookResponse acknowledges an authenticated, parsed callback. Always
// success: the webhook's contract is best-effort notify, not guaranteed
// delivery, so a dropped publish is still an accepted callback.
type webhookResponse struct {
	Success bool `json:"success"`
}

// handleGenerationWebhook ingests a completion callback. The order of
// operations matters: authenticate before touching any identifier in the
// body, confirm the report row is actually readable before telling any
// client it is ready, then publish.
func (s *Server) handleGenerationWebhook(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if s.cfg.WebhookSecret == "" {
		logger.Error().Msg("Webhook secret is not configured, refusing callback")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "webhook not configured"})
		return
	}

	if !secretsEqual(r.Header.Get(WebhookSecretHeader), s.cfg.WebhookSecret) {
		// No further work and no detail: the response must not reveal
		// whether the referenced project or report exists.
		telemetry.GetMetrics().WebhookRejectedTotal.Add(r.Context(), 1)
		logger.Warn().Msg("Webhook callback rejected, bad secret")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Type == "" || req.ProjectID == "" || req.ReportID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type, projectId and reportId are required"})
		return
	}

	telemetry.GetMetrics().WebhookAcceptedTotal.Add(r.Context(), 1)

	if !s.reportVisible(r, &req) {
		// Deliberate no-op outcome: the pull-based poller remains the
		// source of truth, so the caller still gets success.
		telemetry.GetMetrics().EventsDroppedTotal.Add(r.Context(), 1)
		logger.Warn().
			Str("project_id", req.ProjectID).
			Str("report_id", req.ReportID).
			Str("type", req.Type).
			Msg("Report not visible after retries, dropping notification")
		writeJSON(w, http.StatusOK, webhookResponse{Success: true})
		return
	}

	// The worker callback does not know which user asked, so the channel
	// key carries the sentinel in the user slot.
	key := notify.Key(req.ProjectID, "")
	delivered := s.registry.Publish(key, notify.Event{
		Event:     req.Type,
		ProjectID: req.ProjectID,
		ReportID:  req.ReportID,
	})

	logger.Info().
		Str("project_id", req.ProjectID).
		Str("report_id", req.ReportID).
		Str("type", req.Type).
		Int("delivered", delivered).
		Msg("Completion notification published")

	writeJSON(w, http.StatusOK, webhookResponse{Success: true})
}

// reportVisible re-reads the report row before any publish. The worker's
// callback can race the store's read consistency; a client must never be
// told "ready" for data it cannot yet read. A slow-replicating write gets a
// bounded exponential backoff before the event is given up on.
func (s *Server) reportVisible(r *http.Request, req *webhookRequest) bool {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = visibilityInitialInterval
	expo.MaxInterval = visibilityMaxInterval

	attempt := 0
	_, err := backoff.Retry(r.Context(), func() (*store.Report, error) {
		attempt++
		if attempt > 1 {
			telemetry.GetMetrics().VisibilityRetriesTotal.Add(r.Context(), 1)
		}

		report, err := s.reports.GetReport(r.Context(), req.ProjectID, req.ReportID)
		if err != nil {
			if errors.Is(err, store.ErrReportNotFound) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return report, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(visibilityMaxTries))

	if err != nil {
		if !errors.Is(err, store.ErrReportNotFound) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Visibility check failed")
		}
		return false
	}
	return true
}

// secretsEqual compares credentials in constant shape. Hashing both sides
// first keeps the comparison independent of credential length.
func secretsEqual(provided, configured string) bool {
	p := sha256.Sum256([]byte(provided))
	c := sha256.Sum256([]byte(configured))
	return hmac.Equal(p[:], c[:])
}
