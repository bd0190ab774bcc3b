package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/protomake/pulse/internal/store"
)

// ReportStore implements store.ReportStore backed by PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a PostgreSQL-backed report store on an existing pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// PutReport upserts a report row. Retried worker callbacks overwrite the
// payload rather than erroring on the duplicate key.
func (s *ReportStore) PutReport(ctx context.Context, report *store.Report) error {
	if report.ID == "" || report.ProjectID == "" {
		return fmt.Errorf("%w: reportId and projectId", store.ErrMissingField)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (report_id, project_id, kind, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, report_id)
		DO UPDATE SET kind = EXCLUDED.kind, payload = EXCLUDED.payload
	`, report.ID, report.ProjectID, string(report.Kind), []byte(report.Payload))
	if err != nil {
		return mapPostgresError(err)
	}
	return nil
}

// GetReport fetches a report scoped to its project. A report that exists
// under a different project is store.ErrReportNotFound to the caller.
func (s *ReportStore) GetReport(ctx context.Context, projectID, reportID string) (*store.Report, error) {
	var (
		report  store.Report
		kind    string
		payload []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT report_id, project_id, kind, payload, created_at
		FROM reports
		WHERE project_id = $1 AND report_id = $2
	`, projectID, reportID).Scan(&report.ID, &report.ProjectID, &kind, &payload, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrReportNotFound, projectID, reportID)
		}
		return nil, mapPostgresError(err)
	}

	report.Kind = store.JobKind(kind)
	report.Payload = json.RawMessage(payload)
	return &report, nil
}
