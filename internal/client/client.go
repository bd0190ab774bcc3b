package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/store"
)

// reconnect backoff for the event stream; capped so a long outage still
// reattaches within half a minute of recovery
const (
	streamInitialInterval = 500 * time.Millisecond
	streamMaxInterval     = 30 * time.Second
)

// Client talks to the notification service over HTTP: job submission, the
// status poller, and the event stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. The default has no
// timeout because the event stream holds its connection open indefinitely.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JobStatus is the poller's view of one job.
type JobStatus struct {
	JobID      string          `json:"jobId"`
	Status     store.JobStatus `json:"status"`
	Completed  bool            `json:"completed"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// CreateJob submits a generation job and returns its ID.
func (c *Client) CreateJob(ctx context.Context, req *store.CreateJobRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.doJSON(httpReq, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GetJobStatus fetches the authoritative state of one job. There is no
// cache in front of this on purpose; staleness here shows the user a wrong
// "still working" state.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	var status JobStatus
	if err := c.doJSON(httpReq, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListJobs fetches jobs for a project, newest first, optionally filtered by
// status.
func (c *Client) ListJobs(ctx context.Context, projectID string, status store.JobStatus) ([]*store.Job, error) {
	query := url.Values{}
	query.Set("projectId", projectID)
	if status != "" {
		query.Set("status", string(status))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Jobs []*store.Job `json:"jobs"`
	}
	if err := c.doJSON(httpReq, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// PollUntilDone polls the job until it reaches a terminal state or the
// context expires.
func (c *Client) PollUntilDone(ctx context.Context, jobID string, interval time.Duration) (*JobStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if status.Completed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamOptions configures Stream.
type StreamOptions struct {
	ProjectID string
	UserID    string

	// OnEvent receives each decoded event frame.
	OnEvent func(notify.Event)

	// OnConnect runs after every successful (re)attach, before any event is
	// delivered. Push delivery is best-effort, so anything missed while
	// detached must be recovered here via the poller.
	OnConnect func()
}

// Stream attaches to the event stream and dispatches frames until the
// context is canceled. Dropped connections reattach with exponential
// backoff; the backoff resets once a connection delivers its first frame.
func (c *Client) Stream(ctx context.Context, opts StreamOptions) error {
	if opts.OnEvent == nil {
		return errors.New("OnEvent handler is required")
	}

	query := url.Values{}
	if opts.ProjectID != "" {
		query.Set("projectId", opts.ProjectID)
	}
	if opts.UserID != "" {
		query.Set("userId", opts.UserID)
	}
	streamURL := c.baseURL + "/events?" + query.Encode()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = streamInitialInterval
	expo.MaxInterval = streamMaxInterval

	for {
		delivered, err := c.streamOnce(ctx, streamURL, opts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			expo.Reset()
		}

		wait := expo.NextBackOff()
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Event stream dropped, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// streamOnce runs a single stream connection to exhaustion. It reports
// whether any frame, heartbeat included, arrived on this connection.
func (c *Client) streamOnce(ctx context.Context, streamURL string, opts StreamOptions) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected stream status: %s", resp.Status)
	}

	if opts.OnConnect != nil {
		opts.OnConnect()
	}

	delivered := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// frame separator
		case strings.HasPrefix(line, ":"):
			// comment frame: connectivity marker or heartbeat, never an event
			delivered = true
		case strings.HasPrefix(line, "data: "):
			delivered = true
			var event notify.Event
			if err := json.Unmarshal([]byte(line[len("data: "):]), &event); err != nil {
				c.logger.Warn().Err(err).Str("line", line).Msg("Discarding undecodable event frame")
				continue
			}
			opts.OnEvent(event)
		default:
			c.logger.Debug().Str("line", line).Msg("Ignoring unknown stream line")
		}
	}
	return delivered, scanner.Err()
}

// doJSON executes the request, decodes a JSON body on the expected status,
// and turns error statuses into errors carrying the server's message.
func (c *Client) doJSON(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
