package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/protomake/pulse/internal/store"
)

// JobStore implements store.JobStore backed by PostgreSQL.
// All writes are single-statement and rely on the status CHECK constraint
// plus conditional UPDATEs for the one-way lifecycle guarantees.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a PostgreSQL-backed job store on an existing pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `job_id, user_id, project_id, kind, status, input, result, error, created_at, updated_at, started_at, finished_at`

// CreateJob inserts a new pending job after verifying the caller owns the
// target project.
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

	var ownerID string
	err := s.pool.QueryRow(ctx, `
		SELECT owner_id FROM projects WHERE project_id = $1
	`, req.ProjectID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrProjectNotFound, req.ProjectID)
		}
		return nil, mapPostgresError(err)
	}
	if ownerID != req.UserID {
		return nil, fmt.Errorf("%w: project %s", store.ErrNotProjectOwner, req.ProjectID)
	}

	jobID := uuid.Must(uuid.NewV7()).String()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_id, user_id, project_id, kind, status, input)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING `+jobColumns+`
	`, jobID, req.UserID, req.ProjectID, string(req.Kind), []byte(req.Input))

	job, err := scanJob(row)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	log.Info().Str("job_id", job.ID).Str("project_id", job.ProjectID).Str("kind", string(job.Kind)).Msg("Created job")
	return job, nil
}

// GetJob returns the job row or store.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE job_id = $1
	`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
		}
		return nil, mapPostgresError(err)
	}
	return job, nil
}

// MarkProcessing moves a pending job to processing. The conditional UPDATE
// makes repeated calls and calls against terminal jobs no-ops.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = 'pending'
	`, jobID)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireJobExists(ctx, jobID)
	}
	return nil
}

// MarkCompleted records the result and moves the job to completed.
// Terminal jobs are left untouched; finished_at is never overwritten.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', result = $2, error = '', finished_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status IN ('pending', 'processing')
	`, jobID, []byte(result))
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireJobExists(ctx, jobID)
	}

	log.Info().Str("job_id", jobID).Str("status", "completed").Msg("Job finished")
	return nil
}

// MarkFailed records the error message and moves the job to failed.
// Terminal jobs are left untouched.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status IN ('pending', 'processing')
	`, jobID, errMsg)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireJobExists(ctx, jobID)
	}

	log.Info().Str("job_id", jobID).Str("status", "failed").Msg("Job finished")
	return nil
}

// ListJobs returns jobs for a project, newest first, optionally filtered by
// status.
func (s *JobStore) ListJobs(ctx context.Context, req *store.ListJobsRequest) ([]*store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE project_id = $1`
	args := []any{req.ProjectID}

	if req.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(req.Status))
	}
	query += ` ORDER BY created_at DESC`
	if req.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, req.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return jobs, nil
}

// ClaimPending atomically claims the oldest pending job and moves it to
// processing. Returns store.ErrJobNotFound when no pending job exists.
// SKIP LOCKED keeps concurrent workers from claiming the same row.
func (s *JobStore) ClaimPending(ctx context.Context) (*store.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = NOW(), updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, mapPostgresError(err)
	}
	return job, nil
}

// requireJobExists distinguishes a no-op conditional update from a missing
// row.
func (s *JobStore) requireJobExists(ctx context.Context, jobID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM jobs WHERE job_id = $1)
	`, jobID).Scan(&exists)
	if err != nil {
		return mapPostgresError(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	return nil
}

// scanJob maps one row onto a store.Job. pgx scans JSONB columns into
// []byte, and NULL timestamps into nil pointers.
func scanJob(row pgx.Row) (*store.Job, error) {
	var (
		job        store.Job
		kind       string
		status     string
		input      []byte
		result     []byte
		startedAt  *time.Time
		finishedAt *time.Time
	)

	err := row.Scan(
		&job.ID, &job.UserID, &job.ProjectID, &kind, &status,
		&input, &result, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = store.JobKind(kind)
	job.Status = store.JobStatus(status)
	job.Input = json.RawMessage(input)
	job.Result = json.RawMessage(result)
	job.StartedAt = startedAt
	job.FinishedAt = finishedAt
	return &job, nil
}
