package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/protomake/pulse/internal/store"
)

// ProjectStore implements store.ProjectStore backed by PostgreSQL.
type ProjectStore struct {
	pool *pgxpool.Pool
}

// NewProjectStore creates a PostgreSQL-backed project store on an existing pool.
func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{pool: pool}
}

// PutProject upserts a project ownership record.
func (s *ProjectStore) PutProject(ctx context.Context, project *store.Project) error {
	if project.ID == "" || project.OwnerID == "" {
		return fmt.Errorf("%w: projectId and ownerId", store.ErrMissingField)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (project_id, owner_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id)
		DO UPDATE SET owner_id = EXCLUDED.owner_id, name = EXCLUDED.name
	`, project.ID, project.OwnerID, project.Name)
	if err != nil {
		return mapPostgresError(err)
	}
	return nil
}

// GetProject fetches a project or store.ErrProjectNotFound.
func (s *ProjectStore) GetProject(ctx context.Context, projectID string) (*store.Project, error) {
	var project store.Project
	err := s.pool.QueryRow(ctx, `
		SELECT project_id, owner_id, name, created_at
		FROM projects
		WHERE project_id = $1
	`, projectID).Scan(&project.ID, &project.OwnerID, &project.Name, &project.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrProjectNotFound, projectID)
		}
		return nil, mapPostgresError(err)
	}
	return &project, nil
}
