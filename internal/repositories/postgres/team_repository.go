package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hamasaki/kengen/internal/repositories"
)

// PostgresTeamRepository implements TeamRepository using PostgreSQL
type PostgresTeamRepository struct {
	db *sql.DB
}

// NewPostgresTeamRepository creates a new PostgreSQL team repository
func NewPostgresTeamRepository(db *sql.DB) repositories.TeamRepository {
	return &PostgresTeamRepository{db: db}
}

// Exists reports whether the team exists in the project
func (r *PostgresTeamRepository) Exists(ctx context.Context, projectID, teamID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM teams WHERE project_id = $1 AND team_id = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, projectID, teamID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check team existence: %w", err)
	}

	return exists, nil
}

// Create registers a team inside a project. Used by provisioning flows and
// tests; team lifecycle is otherwise owned by the identity layer.
func (r *PostgresTeamRepository) Create(ctx context.Context, projectID, teamID string) error {
	query := `
		INSERT INTO teams (project_id, team_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, projectID, teamID); err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}
