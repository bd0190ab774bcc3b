package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/protomake/pulse/internal/store"
)

// ProjectStore implements store.ProjectStore using in-memory storage.
type ProjectStore struct {
	mu       sync.RWMutex
	projects map[string]*store.Project // project ID -> Project
}

// NewProjectStore creates a new in-memory project store.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{
		projects: make(map[string]*store.Project),
	}
}

// PutProject stores a project row.
func (s *ProjectStore) PutProject(ctx context.Context, project *store.Project) error {
	if project.ID == "" {
		return fmt.Errorf("%w: projectId", store.ErrMissingField)
	}
	if project.OwnerID == "" {
		return fmt.Errorf("%w: ownerId", store.ErrMissingField)
	}

	cp := *project
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.projects[cp.ID] = &cp
	s.mu.Unlock()
	return nil
}

// GetProject returns the project or store.ErrProjectNotFound.
func (s *ProjectStore) GetProject(ctx context.Context, projectID string) (*store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProjectNotFound, projectID)
	}

	cp := *project
	return &cp, nil
}
