package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/protomake/pulse/internal/store"
)

// ReportStore implements store.ReportStore using in-memory storage.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]*store.Report // report ID -> Report
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		reports: make(map[string]*store.Report),
	}
}

// PutReport stores a report row.
func (s *ReportStore) PutReport(ctx context.Context, report *store.Report) error {
	if report.ID == "" {
		return fmt.Errorf("%w: reportId", store.ErrMissingField)
	}
	if report.ProjectID == "" {
		return fmt.Errorf("%w: projectId", store.ErrMissingField)
	}

	cp := *report
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.reports[cp.ID] = &cp
	s.mu.Unlock()
	return nil
}

// GetReport returns the report identified by (projectID, reportID) or
// store.ErrReportNotFound. The project ID must match the stored row so a
// caller can never read another project's report by ID alone.
func (s *ReportStore) GetReport(ctx context.Context, projectID, reportID string) (*store.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[reportID]
	if !ok || report.ProjectID != projectID {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrReportNotFound, projectID, reportID)
	}

	cp := *report
	return &cp, nil
}
