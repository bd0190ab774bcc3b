package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/server"
	"github.com/protomake/pulse/internal/store"
	"github.com/protomake/pulse/internal/telemetry"
)

// callback retry budget; a notification service being down briefly must not
// fail the job itself
const (
	callbackMaxTries        = 5
	callbackInitialInterval = 500 * time.Millisecond
	callbackMaxInterval     = 5 * time.Second
)

// JobQueue is the store surface the runner drives. Both the memory and
// postgres job stores satisfy it.
type JobQueue interface {
	store.JobStore
	ClaimPending(ctx context.Context) (*store.Job, error)
}

// Generator produces the durable artifact for one claimed job.
type Generator interface {
	Generate(ctx context.Context, job *store.Job) (*Result, error)
}

// Result is a generator's output: the report row to commit plus the summary
// recorded on the job itself.
type Result struct {
	Report *store.Report
	Output json.RawMessage
}

// Config holds the runner's wiring.
type Config struct {
	// PollInterval is how often the runner scans for pending jobs.
	// Default: 1 second.
	PollInterval time.Duration

	// CallbackURL is the completion webhook endpoint, empty disables
	// callbacks entirely.
	CallbackURL string

	// CallbackSecret authenticates callbacks to the notification service.
	CallbackSecret string

	// HTTPClient overrides the client used for callbacks. Default:
	// http.Client with a 10 second timeout.
	HTTPClient *http.Client
}

// Runner claims pending jobs, runs the generator, commits the report, marks
// the job terminal, and only then fires the completion callback. The
// ordering is the whole point: by the time anyone is told a report is ready,
// its row is already readable.
type Runner struct {
	cfg       Config
	queue     JobQueue
	reports   store.ReportStore
	generator Generator

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a worker runner. Callbacks are skipped when
// cfg.CallbackURL is empty.
func NewRunner(cfg Config, queue JobQueue, reports store.ReportStore, generator Generator) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Runner{
		cfg:       cfg,
		queue:     queue,
		reports:   reports,
		generator: generator,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling loop.
func (r *Runner) Start() {
	log.Info().Dur("poll_interval", r.cfg.PollInterval).Msg("Starting worker runner")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
}

// Stop signals the loop to exit and waits for in-flight work to finish.
func (r *Runner) Stop() {
	log.Info().Msg("Stopping worker runner")
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runner) loop() {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.drain()
		}
	}
}

// drain processes every pending job before going back to sleep.
func (r *Runner) drain() {
	ctx := context.Background()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		job, err := r.queue.ClaimPending(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrJobNotFound) {
				log.Error().Err(err).Msg("Failed to claim pending job")
			}
			return
		}
		r.process(ctx, job)
	}
}

func (r *Runner) process(ctx context.Context, job *store.Job) {
	logger := log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	result, err := r.generator.Generate(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("Generation failed")
		if markErr := r.queue.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to mark job failed")
		}
		telemetry.GetMetrics().JobsFailedTotal.Add(ctx, 1)
		return
	}

	// Report first, terminal state second. A crash between the two leaves a
	// processing job with a committed report, which a retry resolves; the
	// reverse would leave a completed job pointing at nothing.
	if result.Report != nil {
		if err := r.reports.PutReport(ctx, result.Report); err != nil {
			logger.Error().Err(err).Msg("Failed to commit report")
			if markErr := r.queue.MarkFailed(ctx, job.ID, "failed to commit report"); markErr != nil {
				logger.Error().Err(markErr).Msg("Failed to mark job failed")
			}
			telemetry.GetMetrics().JobsFailedTotal.Add(ctx, 1)
			return
		}
	}

	if err := r.queue.MarkCompleted(ctx, job.ID, result.Output); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job completed")
		return
	}
	telemetry.GetMetrics().JobsCompletedTotal.Add(ctx, 1)
	logger.Info().Msg("Job completed")

	if result.Report != nil && r.cfg.CallbackURL != "" {
		if err := r.postCallback(ctx, job, result.Report); err != nil {
			// Best effort: the poller remains the fallback path
			logger.Warn().Err(err).Msg("Completion callback gave up")
		}
	}
}

// postCallback notifies the completion webhook that the report is readable,
// retrying transient failures with exponential backoff.
func (r *Runner) postCallback(ctx context.Context, job *store.Job, report *store.Report) error {
	body, err := json.Marshal(map[string]string{
		"type":      EventForKind(job.Kind),
		"projectId": report.ProjectID,
		"reportId":  report.ID,
		"status":    "completed",
	})
	if err != nil {
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = callbackInitialInterval
	expo.MaxInterval = callbackMaxInterval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.CallbackURL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(server.WebhookSecretHeader, r.cfg.CallbackSecret)

		resp, err := r.cfg.HTTPClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Bad secret or bad body will not get better with retries
			return struct{}{}, backoff.Permanent(fmt.Errorf("callback rejected: %s", resp.Status))
		default:
			return struct{}{}, fmt.Errorf("callback failed: %s", resp.Status)
		}
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(callbackMaxTries))

	return err
}

// EventForKind maps a job kind onto the event name its completion callback
// carries.
func EventForKind(kind store.JobKind) string {
	switch kind {
	case store.JobKindInitialGeneration:
		return notify.EventInitialCompleted
	case store.JobKindFirmwareCode:
		return notify.EventFirmwareCompleted
	case store.JobKindHardwareModel:
		return notify.EventModelCompleted
	default:
		return notify.EventReportCompleted
	}
}
