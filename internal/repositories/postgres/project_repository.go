package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hamasaki/kengen/internal/entities"
	"github.com/hamasaki/kengen/internal/repositories"
)

// PostgresProjectRepository implements ProjectRepository using PostgreSQL
type PostgresProjectRepository struct {
	db *sql.DB
}

// NewPostgresProjectRepository creates a new PostgreSQL project repository
func NewPostgresProjectRepository(db *sql.DB) repositories.ProjectRepository {
	return &PostgresProjectRepository{db: db}
}

// GetByID retrieves a project and its configuration identity.
// Returns (nil, nil) when no such project exists.
func (r *PostgresProjectRepository) GetByID(ctx context.Context, projectID string) (*entities.Project, error) {
	query := `SELECT id, config_id FROM projects WHERE id = $1`

	var project entities.Project
	err := r.db.QueryRowContext(ctx, query, projectID).Scan(&project.ID, &project.ConfigID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// Create registers a project with its configuration identity. Used by
// provisioning flows and tests; project lifecycle is otherwise owned by the
// registry.
func (r *PostgresProjectRepository) Create(ctx context.Context, projectID, configID string) error {
	query := `
		INSERT INTO projects (id, config_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, projectID, configID); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}
