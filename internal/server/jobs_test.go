package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protomake/pulse/internal/store"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestCreateJobHandler(t *testing.T) {
	fx := newFixture(t)
	ts := httptest.NewServer(fx.server.Handler())
	t.Cleanup(ts.Close)

	t.Run("creates job and returns id", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/jobs",
			`{"userId":"U1","projectId":"P1","kind":"3d-components","input":{"prompt":"chassis"}}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeJSON(t, resp)
		require.NotEmpty(t, body["jobId"])

		job, err := fx.jobs.GetJob(t.Context(), body["jobId"].(string))
		require.NoError(t, err)
		require.Equal(t, store.JobStatusPending, job.Status)
	})

	t.Run("missing fields are a 400", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/jobs", `{"projectId":"P1","kind":"3d-components"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/jobs", `{broken`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("non-owner is a 403", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/jobs",
			`{"userId":"U2","projectId":"P1","kind":"3d-components"}`)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown project is a 404", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/jobs",
			`{"userId":"U1","projectId":"P-ghost","kind":"3d-components"}`)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestJobStatusHandler(t *testing.T) {
	fx := newFixture(t)
	ts := httptest.NewServer(fx.server.Handler())
	t.Cleanup(ts.Close)

	job, err := fx.jobs.CreateJob(t.Context(), &store.CreateJobRequest{
		UserID:    "U1",
		ProjectID: "P1",
		Kind:      store.JobKindFirmwareCode,
	})
	require.NoError(t, err)

	t.Run("pending job", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/jobs/" + job.ID)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeJSON(t, resp)
		require.Equal(t, "pending", body["status"])
		require.Equal(t, false, body["completed"])
		require.NotContains(t, body, "result")
		require.NotContains(t, body, "error")
	})

	t.Run("completed job carries the result", func(t *testing.T) {
		require.NoError(t, fx.jobs.MarkProcessing(t.Context(), job.ID))
		require.NoError(t, fx.jobs.MarkCompleted(t.Context(), job.ID, []byte(`{"reportId":"R1"}`)))

		resp, err := http.Get(ts.URL + "/jobs/" + job.ID)
		require.NoError(t, err)
		body := decodeJSON(t, resp)
		require.Equal(t, "completed", body["status"])
		require.Equal(t, true, body["completed"])
		require.NotEmpty(t, body["result"])
		require.NotEmpty(t, body["finishedAt"])
	})

	t.Run("unknown job is a 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/jobs/nope")
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestListJobsHandler(t *testing.T) {
	fx := newFixture(t)
	ts := httptest.NewServer(fx.server.Handler())
	t.Cleanup(ts.Close)

	for _, kind := range []store.JobKind{store.JobKind3DComponents, store.JobKindHardwareModel} {
		_, err := fx.jobs.CreateJob(t.Context(), &store.CreateJobRequest{
			UserID:    "U1",
			ProjectID: "P1",
			Kind:      kind,
		})
		require.NoError(t, err)
	}

	resp, err := http.Get(ts.URL + "/jobs?projectId=P1&status=pending")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	require.Len(t, body["jobs"], 2)
}
