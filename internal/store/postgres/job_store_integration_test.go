//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/protomake/pulse/internal/store"
)

func setupPostgresPool(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString:  connString,
		AutoMigrate: true,
	})
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func seedProject(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	projects := NewProjectStore(pool)
	require.NoError(t, projects.PutProject(ctx, &store.Project{
		ID:      "P1",
		OwnerID: "U1",
		Name:    "integration",
	}))
}

func TestIntegration_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresPool(t, ctx)
	defer cleanup()

	seedProject(t, ctx, pool)
	jobs := NewJobStore(pool)

	var jobID string

	t.Run("create job", func(t *testing.T) {
		job, err := jobs.CreateJob(ctx, &store.CreateJobRequest{
			UserID:    "U1",
			ProjectID: "P1",
			Kind:      store.JobKind3DComponents,
			Input:     json.RawMessage(`{"prompt":"chassis"}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, job.ID)
		require.Equal(t, store.JobStatusPending, job.Status)
		require.Nil(t, job.FinishedAt)
		jobID = job.ID
	})

	t.Run("ownership enforced", func(t *testing.T) {
		_, err := jobs.CreateJob(ctx, &store.CreateJobRequest{
			UserID:    "U2",
			ProjectID: "P1",
			Kind:      store.JobKind3DComponents,
		})
		require.ErrorIs(t, err, store.ErrNotProjectOwner)

		_, err = jobs.CreateJob(ctx, &store.CreateJobRequest{
			UserID:    "U1",
			ProjectID: "P-ghost",
			Kind:      store.JobKind3DComponents,
		})
		require.ErrorIs(t, err, store.ErrProjectNotFound)
	})

	t.Run("mark processing is idempotent", func(t *testing.T) {
		require.NoError(t, jobs.MarkProcessing(ctx, jobID))
		require.NoError(t, jobs.MarkProcessing(ctx, jobID))

		job, err := jobs.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.Equal(t, store.JobStatusProcessing, job.Status)
		require.NotNil(t, job.StartedAt)
	})

	t.Run("complete and terminal stickiness", func(t *testing.T) {
		require.NoError(t, jobs.MarkCompleted(ctx, jobID, json.RawMessage(`{"reportId":"R1"}`)))

		first, err := jobs.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.Equal(t, store.JobStatusCompleted, first.Status)
		require.NotNil(t, first.FinishedAt)

		// A late failure callback must not flip a completed job
		require.NoError(t, jobs.MarkFailed(ctx, jobID, "late failure"))

		got, err := jobs.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.Equal(t, store.JobStatusCompleted, got.Status)
		require.Empty(t, got.Error)
		require.Equal(t, *first.FinishedAt, *got.FinishedAt)
	})

	t.Run("missing job", func(t *testing.T) {
		_, err := jobs.GetJob(ctx, "nope")
		require.ErrorIs(t, err, store.ErrJobNotFound)
		require.ErrorIs(t, jobs.MarkProcessing(ctx, "nope"), store.ErrJobNotFound)
		require.ErrorIs(t, jobs.MarkCompleted(ctx, "nope", nil), store.ErrJobNotFound)
	})
}

func TestIntegration_ClaimPending(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresPool(t, ctx)
	defer cleanup()

	seedProject(t, ctx, pool)
	jobs := NewJobStore(pool)

	_, err := jobs.ClaimPending(ctx)
	require.ErrorIs(t, err, store.ErrJobNotFound)

	first, err := jobs.CreateJob(ctx, &store.CreateJobRequest{
		UserID:    "U1",
		ProjectID: "P1",
		Kind:      store.JobKindFirmwareCode,
	})
	require.NoError(t, err)

	second, err := jobs.CreateJob(ctx, &store.CreateJobRequest{
		UserID:    "U1",
		ProjectID: "P1",
		Kind:      store.JobKindHardwareModel,
	})
	require.NoError(t, err)

	// FIFO: oldest pending job claims first
	claimed, err := jobs.ClaimPending(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, store.JobStatusProcessing, claimed.Status)

	claimed, err = jobs.ClaimPending(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, claimed.ID)

	_, err = jobs.ClaimPending(ctx)
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestIntegration_ReportVisibility(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresPool(t, ctx)
	defer cleanup()

	seedProject(t, ctx, pool)
	projects := NewProjectStore(pool)
	require.NoError(t, projects.PutProject(ctx, &store.Project{ID: "P2", OwnerID: "U2"}))

	reports := NewReportStore(pool)
	require.NoError(t, reports.PutReport(ctx, &store.Report{
		ID:        "R1",
		ProjectID: "P1",
		Kind:      store.JobKindInitialGeneration,
		Payload:   json.RawMessage(`{"model":{}}`),
	}))

	t.Run("scoped lookup", func(t *testing.T) {
		report, err := reports.GetReport(ctx, "P1", "R1")
		require.NoError(t, err)
		require.Equal(t, "R1", report.ID)

		// Same report ID under the wrong project stays invisible
		_, err = reports.GetReport(ctx, "P2", "R1")
		require.ErrorIs(t, err, store.ErrReportNotFound)
	})

	t.Run("upsert keeps retried callbacks quiet", func(t *testing.T) {
		require.NoError(t, reports.PutReport(ctx, &store.Report{
			ID:        "R1",
			ProjectID: "P1",
			Kind:      store.JobKindInitialGeneration,
			Payload:   json.RawMessage(`{"model":{"rev":2}}`),
		}))

		report, err := reports.GetReport(ctx, "P1", "R1")
		require.NoError(t, err)
		require.JSONEq(t, `{"model":{"rev":2}}`, string(report.Payload))
	})
}
