package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/protomake/pulse/internal/notify"
	"github.com/protomake/pulse/internal/server"
	"github.com/protomake/pulse/internal/store"
	"github.com/protomake/pulse/internal/store/memory"
)

type clientFixture struct {
	ts       *httptest.Server
	jobs     *memory.JobStore
	reports  *memory.ReportStore
	registry *notify.Registry
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	projects := memory.NewProjectStore()
	require.NoError(t, projects.PutProject(t.Context(), &store.Project{ID: "P1", OwnerID: "U1"}))

	fx := &clientFixture{
		jobs:     memory.NewJobStore(projects),
		reports:  memory.NewReportStore(),
		registry: notify.NewRegistry(),
	}
	srv := server.NewServer(server.Config{
		WebhookSecret:     "hook-secret",
		HeartbeatInterval: 50 * time.Millisecond,
	}, fx.jobs, fx.reports, fx.registry)

	fx.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(fx.ts.Close)
	return fx
}

func TestClientCreateAndPollJob(t *testing.T) {
	fx := newClientFixture(t)
	c := New(fx.ts.URL)

	jobID, err := c.CreateJob(t.Context(), &store.CreateJobRequest{
		UserID:    "U1",
		ProjectID: "P1",
		Kind:      store.JobKind3DComponents,
		Input:     json.RawMessage(`{"prompt":"chassis"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	status, err := c.GetJobStatus(t.Context(), jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusPending, status.Status)
	require.False(t, status.Completed)

	require.NoError(t, fx.jobs.MarkProcessing(t.Context(), jobID))
	require.NoError(t, fx.jobs.MarkCompleted(t.Context(), jobID, json.RawMessage(`{"reportId":"R1"}`)))

	done, err := c.PollUntilDone(t.Context(), jobID, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusCompleted, done.Status)
	require.JSONEq(t, `{"reportId":"R1"}`, string(done.Result))
	require.NotNil(t, done.FinishedAt)
}

func TestClientCreateJobSurfacesServerError(t *testing.T) {
	fx := newClientFixture(t)
	c := New(fx.ts.URL)

	_, err := c.CreateJob(t.Context(), &store.CreateJobRequest{
		UserID:    "U2",
		ProjectID: "P1",
		Kind:      store.JobKind3DComponents,
	})
	require.ErrorContains(t, err, "403")
}

func TestClientStreamReceivesEvents(t *testing.T) {
	fx := newClientFixture(t)
	c := New(fx.ts.URL)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var mu sync.Mutex
	var events []notify.Event
	connected := make(chan struct{}, 1)

	go func() {
		_ = c.Stream(ctx, StreamOptions{
			ProjectID: "P1",
			OnEvent: func(event notify.Event) {
				mu.Lock()
				events = append(events, event)
				mu.Unlock()
			},
			OnConnect: func() {
				select {
				case connected <- struct{}{}:
				default:
				}
			},
		})
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never connected")
	}

	key := notify.Key("P1", "")
	require.Eventually(t, func() bool {
		return fx.registry.Listeners(key) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fx.registry.Publish(key, notify.Event{
		Event:     notify.EventReportCompleted,
		ProjectID: "P1",
		ReportID:  "R1",
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, notify.Event{
		Event:     notify.EventReportCompleted,
		ProjectID: "P1",
		ReportID:  "R1",
	}, events[0])
	mu.Unlock()

	// Heartbeat comments must never reach the event handler
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	require.Len(t, events, 1)
	mu.Unlock()
}
