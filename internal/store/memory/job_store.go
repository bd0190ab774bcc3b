package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/protomake/pulse/internal/store"
)

// JobStore implements store.JobStore using in-memory storage.
// Used for development and tests; the postgres store is the production path.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*store.Job // job ID -> Job
	projects store.ProjectStore
}

// NewJobStore creates a new in-memory job store. The project store backs the
// ownership check performed on job creation.
func NewJobStore(projects store.ProjectStore) *JobStore {
	return &JobStore{
		jobs:     make(map[string]*store.Job),
		projects: projects,
	}
}

// CreateJob creates a new job in the pending state.
// Fails with store.ErrMissingField when a required identity field is absent
// and store.ErrNotProjectOwner when the caller does not own the project.
func (s *JobStore) CreateJob(ctx context.Context, req *store.CreateJobRequest) (*store.Job, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId", store.ErrMissingField)
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: projectId", store.ErrMissingField)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", store.ErrMissingField, req.Kind)
	}

	project, err := s.projects.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != req.UserID {
		return nil, fmt.Errorf("%w: project %s", store.ErrNotProjectOwner, req.ProjectID)
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Kind:      req.Kind,
		Status:    store.JobStatusPending,
		Input:     req.Input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	log.Info().Str("job_id", job.ID).Str("project_id", job.ProjectID).Str("kind", string(job.Kind)).Msg("Created job")
	return snapshot(job), nil
}

// GetJob returns a snapshot of the job or store.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	return snapshot(job), nil
}

// MarkProcessing moves a pending job to processing and records StartedAt.
// A job already processing is left untouched; terminal jobs are never
// transitioned.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	if job.Status != store.JobStatusPending {
		// Already processing or terminal, idempotent guard
		return nil
	}

	now := time.Now().UTC()
	job.Status = store.JobStatusProcessing
	job.StartedAt = &now
	job.UpdatedAt = now
	return nil
}

// MarkCompleted records the result and moves the job to completed.
// No-op when the job is already terminal, FinishedAt is left as is.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, result json.RawMessage) error {
	return s.finish(jobID, store.JobStatusCompleted, result, "")
}

// MarkFailed records the error message and moves the job to failed.
// No-op when the job is already terminal.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return s.finish(jobID, store.JobStatusFailed, nil, errMsg)
}

func (s *JobStore) finish(jobID string, status store.JobStatus, result json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		log.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Job already terminal, ignoring transition")
		return nil
	}

	now := time.Now().UTC()
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.FinishedAt = &now
	job.UpdatedAt = now

	log.Info().Str("job_id", jobID).Str("status", string(status)).Msg("Job finished")
	return nil
}

// ClaimPending claims the oldest pending job and moves it to processing.
// Returns store.ErrJobNotFound when nothing is pending.
func (s *JobStore) ClaimPending(ctx context.Context) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *store.Job
	for _, job := range s.jobs {
		if job.Status != store.JobStatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, store.ErrJobNotFound
	}

	now := time.Now().UTC()
	oldest.Status = store.JobStatusProcessing
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	return snapshot(oldest), nil
}

// ListJobs returns jobs for a project, newest first, optionally filtered by
// status.
func (s *JobStore) ListJobs(ctx context.Context, req *store.ListJobsRequest) ([]*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*store.Job
	for _, job := range s.jobs {
		// Exact match on project, like the postgres WHERE clause; an empty
		// filter matches nothing rather than everything.
		if job.ProjectID != req.ProjectID {
			continue
		}
		if req.Status != "" && job.Status != req.Status {
			continue
		}
		jobs = append(jobs, snapshot(job))
	}

	// Newest first, matching the postgres ORDER BY created_at DESC
	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].CreatedAt.After(jobs[i].CreatedAt) {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}

	if req.Limit > 0 && len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
	}
	return jobs, nil
}

// snapshot copies a job so callers never share the store's mutable row.
func snapshot(job *store.Job) *store.Job {
	cp := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
