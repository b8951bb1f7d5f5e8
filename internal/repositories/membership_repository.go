package repositories

import (
	"context"

	"github.com/hamasaki/kengen/internal/entities"
)

// MembershipRepository defines the interface for team membership and direct
// permission grant data access.
type MembershipRepository interface {
	// GetMember retrieves the membership record for (project, user, team),
	// including the DBIDs of all directly granted permissions.
	// Returns (nil, nil) when no membership exists.
	GetMember(ctx context.Context, projectID, userID, teamID string) (*entities.TeamMembership, error)

	// CreateGrant records a direct permission grant for the member.
	// Granting an already-granted permission is a no-op.
	CreateGrant(ctx context.Context, projectID, userID, teamID, permissionDBID string) error

	// DeleteGrant removes a direct permission grant from the member.
	// Revoking an ungranted permission is a no-op.
	DeleteGrant(ctx context.Context, projectID, userID, teamID, permissionDBID string) error
}

// ProjectRepository resolves project identifiers against the project
// registry.
type ProjectRepository interface {
	// GetByID retrieves a project and its configuration identity.
	// Returns (nil, nil) when no such project exists.
	GetByID(ctx context.Context, projectID string) (*entities.Project, error)
}

// TeamRepository exposes team existence checks within a project.
type TeamRepository interface {
	// Exists reports whether the team exists in the project
	Exists(ctx context.Context, projectID, teamID string) (bool, error)
}
