package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hamasaki/kengen/internal/entities"
	"github.com/hamasaki/kengen/internal/repositories"
)

// PostgresMembershipRepository implements MembershipRepository using PostgreSQL
type PostgresMembershipRepository struct {
	db *sql.DB
}

// NewPostgresMembershipRepository creates a new PostgreSQL membership repository
func NewPostgresMembershipRepository(db *sql.DB) repositories.MembershipRepository {
	return &PostgresMembershipRepository{db: db}
}

// GetMember retrieves the membership record for (project, user, team)
// including the DBIDs of all directly granted permissions.
// Returns (nil, nil) when no membership exists.
func (r *PostgresMembershipRepository) GetMember(ctx context.Context, projectID, userID, teamID string) (*entities.TeamMembership, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM team_members
			WHERE project_id = $1 AND user_id = $2 AND team_id = $3
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, projectID, userID, teamID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !exists {
		return nil, nil
	}

	grantsQuery := `
		SELECT permission_db_id
		FROM team_member_direct_permissions
		WHERE project_id = $1 AND user_id = $2 AND team_id = $3
	`
	rows, err := r.db.QueryContext(ctx, grantsQuery, projectID, userID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load direct grants: %w", err)
	}
	defer rows.Close()

	member := &entities.TeamMembership{
		ProjectID: projectID,
		UserID:    userID,
		TeamID:    teamID,
	}
	for rows.Next() {
		var dbID string
		if err := rows.Scan(&dbID); err != nil {
			return nil, fmt.Errorf("failed to scan direct grant: %w", err)
		}
		member.DirectPermissionDBIDs = append(member.DirectPermissionDBIDs, dbID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating direct grants: %w", err)
	}

	return member, nil
}

// CreateGrant records a direct permission grant. Granting an already-granted
// permission is a no-op.
func (r *PostgresMembershipRepository) CreateGrant(ctx context.Context, projectID, userID, teamID, permissionDBID string) error {
	query := `
		INSERT INTO team_member_direct_permissions (project_id, user_id, team_id, permission_db_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, projectID, userID, teamID, permissionDBID); err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// DeleteGrant removes a direct permission grant. Revoking an ungranted
// permission is a no-op.
func (r *PostgresMembershipRepository) DeleteGrant(ctx context.Context, projectID, userID, teamID, permissionDBID string) error {
	query := `
		DELETE FROM team_member_direct_permissions
		WHERE project_id = $1 AND user_id = $2 AND team_id = $3 AND permission_db_id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, projectID, userID, teamID, permissionDBID); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

// CreateMember records a team membership. Used by provisioning flows and
// tests; membership lifecycle is otherwise owned by the identity layer.
func (r *PostgresMembershipRepository) CreateMember(ctx context.Context, projectID, userID, teamID string) error {
	query := `
		INSERT INTO team_members (project_id, user_id, team_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, projectID, userID, teamID); err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}
