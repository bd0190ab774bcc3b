package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/protomake/pulse/internal/store"
	"github.com/protomake/pulse/internal/telemetry"
)

// createJobResponse is the body returned by POST /jobs.
type createJobResponse struct {
	JobID string `json:"jobId"`
}

// jobStatusResponse is the body returned by GET /jobs/{jobId}. It reflects
// the job store exactly; any caching here would surface stale "still
// working" states to the user.
type jobStatusResponse struct {
	JobID      string          `json:"jobId"`
	Status     store.JobStatus `json:"status"`
	Completed  bool            `json:"completed"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req store.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), &req)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	telemetry.GetMetrics().JobsCreatedTotal.Add(r.Context(), 1)
	zerolog.Ctx(r.Context()).Info().
		Str("job_id", job.ID).
		Str("project_id", job.ProjectID).
		Str("kind", string(job.Kind)).
		Msg("Job created")

	writeJSON(w, http.StatusCreated, createJobResponse{JobID: job.ID})
}

// handleJobStatus is the pull-based fallback path: the canonical data
// source once a push notification signals that something changed, and the
// recovery path when no push channel was ever established.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), r.PathValue("jobId"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:      job.ID,
		Status:     job.Status,
		Completed:  job.Status == store.JobStatusCompleted,
		Result:     job.Result,
		Error:      job.Error,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	jobs, err := s.jobs.ListJobs(r.Context(), &store.ListJobsRequest{
		ProjectID: query.Get("projectId"),
		Status:    store.JobStatus(query.Get("status")),
		Limit:     50,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
