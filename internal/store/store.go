package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for common error conditions
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrReportNotFound  = errors.New("report not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrNotProjectOwner = errors.New("caller does not own project")
	ErrMissingField    = errors.New("missing required field")
)

// JobKind tags the type of generation work a job performs.
type JobKind string

const (
	JobKind3DComponents      JobKind = "3d-components"
	JobKindAssemblyParts     JobKind = "assembly-parts"
	JobKindFirmwareCode      JobKind = "firmware-code"
	JobKindHardwareModel     JobKind = "hardware-model"
	JobKindInitialGeneration JobKind = "hardware-initial-generation"
)

// Valid reports whether the kind is one of the known generation kinds.
func (k JobKind) Valid() bool {
	switch k {
	case JobKind3DComponents, JobKindAssemblyParts, JobKindFirmwareCode,
		JobKindHardwareModel, JobKindInitialGeneration:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
// Transitions only ever move pending -> processing -> {completed, failed};
// completed and failed are terminal.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one unit of asynchronous generation work.
// Result and Error are mutually exclusive; both are empty while the job is
// pending or processing.
type Job struct {
	ID        string          `json:"jobId"`
	UserID    string          `json:"userId"`
	ProjectID string          `json:"projectId"`
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Report is the durable side effect a completed generation job commits.
// The completion webhook re-reads this row before notifying anyone.
type Report struct {
	ID        string          `json:"reportId"`
	ProjectID string          `json:"projectId"`
	Kind      JobKind         `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Project carries the ownership record CreateJob checks against.
type Project struct {
	ID        string    `json:"projectId"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateJobRequest is the input to JobStore.CreateJob.
type CreateJobRequest struct {
	UserID    string          `json:"userId"`
	ProjectID string          `json:"projectId"`
	Kind      JobKind         `json:"kind"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ListJobsRequest filters jobs by project and optionally by status.
// Results are ordered by creation time, newest first.
type ListJobsRequest struct {
	ProjectID string
	Status    JobStatus
	Limit     int
}

// JobStore defines the interface for job row storage.
//
// MarkCompleted and MarkFailed are at-most-once: calling either on a job
// that is already terminal is a no-op, not an error, because the worker
// callback path may retry. FinishedAt is set on terminal entry only and
// never overwritten.
type JobStore interface {
	CreateJob(ctx context.Context, req *CreateJobRequest) (*Job, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, result json.RawMessage) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
	ListJobs(ctx context.Context, req *ListJobsRequest) ([]*Job, error)
}

// ReportStore defines the interface for generated report rows.
// GetReport by (projectID, reportID) is the visibility check the completion
// webhook performs before publishing.
type ReportStore interface {
	PutReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, projectID, reportID string) (*Report, error)
}

// ProjectStore defines project ownership lookups.
type ProjectStore interface {
	PutProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, projectID string) (*Project, error)
}
