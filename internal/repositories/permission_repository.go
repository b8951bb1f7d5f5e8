package repositories

import (
	"context"

	"github.com/hamasaki/kengen/internal/entities"
)

// PermissionDraft carries the fields of a permission to be created.
type PermissionDraft struct {
	ID          string
	Description string
}

// PermissionPatch carries the fields of a permission update. Nil fields are
// left unchanged.
type PermissionPatch struct {
	ID          *string
	Description *string
}

// PermissionRepository defines the interface for permission data access.
// Implementations must not cache: every call reflects current store state.
type PermissionRepository interface {
	// ListByScope returns the permissions owned by the resolved scope target:
	// the project's shared configuration for global/any-team scopes, the named
	// team for a specific-team scope. Returns apperrors.TeamNotFoundError when
	// a specific-team scope references a team absent from the project.
	ListByScope(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error)

	// FindByQueriableID retrieves a single permission by its queriable ID
	// within the given scope. Returns (nil, nil) when no such permission exists.
	FindByQueriableID(ctx context.Context, projectID string, scope entities.Scope, queriableID string) (*entities.Permission, error)

	// FindByDBIDs retrieves permissions by their store identities, in no
	// particular order. DBIDs without a matching row are simply absent from
	// the result.
	FindByDBIDs(ctx context.Context, dbIDs []string) ([]*entities.Permission, error)

	// Create persists a new permission together with its full parent edge set
	// in a single transaction and returns the stored permission including its
	// store-assigned DBID.
	Create(ctx context.Context, projectID string, scope entities.Scope, draft *PermissionDraft, parentDBIDs []string) (*entities.Permission, error)

	// Update applies the patch to the permission identified by queriableID
	// within the given scope. When parentDBIDs is non-nil the whole parent
	// edge set is replaced atomically in the same transaction; when nil the
	// edges are left alone. Returns (nil, nil) when no such permission exists.
	Update(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *PermissionPatch, parentDBIDs []string) (*entities.Permission, error)

	// Delete removes the permission identified by queriableID within the
	// given scope. Returns false when no such permission exists. Edges owned
	// by the deleted permission (as child) are removed; edges in other
	// permissions that referenced it as parent are NOT repaired.
	Delete(ctx context.Context, projectID string, scope entities.Scope, queriableID string) (bool, error)

	// UpsertEdges atomically replaces the full parent edge set of the child
	// permission. A partial edge write is a correctness violation.
	UpsertEdges(ctx context.Context, childDBID string, parentDBIDs []string) error
}
