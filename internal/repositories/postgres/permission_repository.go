package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hamasaki/kengen/internal/apperrors"
	"github.com/hamasaki/kengen/internal/entities"
	"github.com/hamasaki/kengen/internal/repositories"
)

// Scope column values. Any-team and specific-team permissions share the TEAM
// scope value; the owner columns tell them apart.
const (
	scopeValueGlobal = "GLOBAL"
	scopeValueTeam   = "TEAM"
)

// PostgresPermissionRepository implements PermissionRepository using PostgreSQL
type PostgresPermissionRepository struct {
	db *sql.DB
}

// NewPostgresPermissionRepository creates a new PostgreSQL permission repository
func NewPostgresPermissionRepository(db *sql.DB) repositories.PermissionRepository {
	return &PostgresPermissionRepository{db: db}
}

func scopeColumnValue(scope entities.Scope) (string, error) {
	switch scope.Kind {
	case entities.ScopeGlobal:
		return scopeValueGlobal, nil
	case entities.ScopeAnyTeam, entities.ScopeSpecificTeam:
		return scopeValueTeam, nil
	default:
		return "", fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}
}

// ListByScope returns the permissions owned by the resolved scope target
func (r *PostgresPermissionRepository) ListByScope(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}

	var (
		rows *sql.Rows
		err  error
	)

	switch scope.Kind {
	case entities.ScopeGlobal, entities.ScopeAnyTeam:
		scopeValue, _ := scopeColumnValue(scope)
		query := `
			SELECT p.db_id, p.scope, p.queriable_id, p.description, p.team_id
			FROM permissions p
			JOIN projects pr ON pr.config_id = p.project_config_id
			WHERE pr.id = $1 AND p.scope = $2
		`
		rows, err = r.db.QueryContext(ctx, query, projectID, scopeValue)
	case entities.ScopeSpecificTeam:
		exists, existsErr := r.teamExists(ctx, projectID, scope.TeamID)
		if existsErr != nil {
			return nil, existsErr
		}
		if !exists {
			return nil, &apperrors.TeamNotFoundError{TeamID: scope.TeamID}
		}
		query := `
			SELECT db_id, scope, queriable_id, description, team_id
			FROM permissions
			WHERE project_id = $1 AND team_id = $2
		`
		rows, err = r.db.QueryContext(ctx, query, projectID, scope.TeamID)
	default:
		return nil, fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms, err := scanPermissions(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachParentIDs(ctx, perms); err != nil {
		return nil, err
	}

	return perms, nil
}

// FindByQueriableID retrieves a single permission by its queriable ID within
// the given scope. Returns (nil, nil) when no such permission exists.
func (r *PostgresPermissionRepository) FindByQueriableID(ctx context.Context, projectID string, scope entities.Scope, queriableID string) (*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}

	var row *sql.Row
	switch scope.Kind {
	case entities.ScopeGlobal, entities.ScopeAnyTeam:
		scopeValue, _ := scopeColumnValue(scope)
		query := `
			SELECT p.db_id, p.scope, p.queriable_id, p.description, p.team_id
			FROM permissions p
			JOIN projects pr ON pr.config_id = p.project_config_id
			WHERE pr.id = $1 AND p.scope = $2 AND p.queriable_id = $3
		`
		row = r.db.QueryRowContext(ctx, query, projectID, scopeValue, queriableID)
	case entities.ScopeSpecificTeam:
		query := `
			SELECT db_id, scope, queriable_id, description, team_id
			FROM permissions
			WHERE project_id = $1 AND team_id = $2 AND queriable_id = $3
		`
		row = r.db.QueryRowContext(ctx, query, projectID, scope.TeamID, queriableID)
	default:
		return nil, fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}

	perm, err := scanPermissionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find permission: %w", err)
	}

	if err := r.attachParentIDs(ctx, []*entities.Permission{perm}); err != nil {
		return nil, err
	}

	return perm, nil
}

// FindByDBIDs retrieves permissions by their store identities
func (r *PostgresPermissionRepository) FindByDBIDs(ctx context.Context, dbIDs []string) ([]*entities.Permission, error) {
	if len(dbIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT db_id, scope, queriable_id, description, team_id
		FROM permissions
		WHERE db_id = ANY($1::uuid[])
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(dbIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to find permissions by db id: %w", err)
	}
	defer rows.Close()

	perms, err := scanPermissions(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachParentIDs(ctx, perms); err != nil {
		return nil, err
	}

	return perms, nil
}

// Create persists a new permission together with its full parent edge set in
// a single transaction.
func (r *PostgresPermissionRepository) Create(ctx context.Context, projectID string, scope entities.Scope, draft *repositories.PermissionDraft, parentDBIDs []string) (*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	if draft == nil || draft.ID == "" {
		return nil, fmt.Errorf("permission ID is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dbID := uuid.NewString()
	description := sql.NullString{String: draft.Description, Valid: draft.Description != ""}

	switch scope.Kind {
	case entities.ScopeGlobal, entities.ScopeAnyTeam:
		scopeValue, _ := scopeColumnValue(scope)
		query := `
			INSERT INTO permissions (db_id, scope, queriable_id, description, project_config_id)
			SELECT $1, $2, $3, $4, config_id FROM projects WHERE id = $5
		`
		res, execErr := tx.ExecContext(ctx, query, dbID, scopeValue, draft.ID, description, projectID)
		if execErr != nil {
			return nil, fmt.Errorf("failed to create permission: %w", execErr)
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			return nil, fmt.Errorf("failed to create permission: %w", affErr)
		}
		if affected == 0 {
			return nil, &apperrors.ProjectNotFoundError{ProjectID: projectID}
		}
	case entities.ScopeSpecificTeam:
		query := `
			INSERT INTO permissions (db_id, scope, queriable_id, description, project_id, team_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, execErr := tx.ExecContext(ctx, query, dbID, scopeValueTeam, draft.ID, description, projectID, scope.TeamID); execErr != nil {
			return nil, fmt.Errorf("failed to create permission: %w", execErr)
		}
	default:
		return nil, fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}

	if err := replaceEdges(ctx, tx, dbID, parentDBIDs); err != nil {
		return nil, err
	}

	parentIDs, err := parentQueriableIDs(ctx, tx, dbID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &entities.Permission{
		DBID:                     dbID,
		ID:                       draft.ID,
		Scope:                    scope,
		Description:              draft.Description,
		InheritFromPermissionIDs: parentIDs,
	}, nil
}

// Update applies the patch and, when parentDBIDs is non-nil, replaces the
// whole parent edge set in the same transaction.
// Returns (nil, nil) when no such permission exists.
func (r *PostgresPermissionRepository) Update(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *repositories.PermissionPatch, parentDBIDs []string) (*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	if patch == nil {
		patch = &repositories.PermissionPatch{}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		dbID        string
		currentID   string
		currentDesc sql.NullString
	)

	switch scope.Kind {
	case entities.ScopeGlobal, entities.ScopeAnyTeam:
		scopeValue, _ := scopeColumnValue(scope)
		query := `
			SELECT p.db_id, p.queriable_id, p.description
			FROM permissions p
			JOIN projects pr ON pr.config_id = p.project_config_id
			WHERE pr.id = $1 AND p.scope = $2 AND p.queriable_id = $3
			FOR UPDATE OF p
		`
		err = tx.QueryRowContext(ctx, query, projectID, scopeValue, queriableID).Scan(&dbID, &currentID, &currentDesc)
	case entities.ScopeSpecificTeam:
		query := `
			SELECT db_id, queriable_id, description
			FROM permissions
			WHERE project_id = $1 AND team_id = $2 AND queriable_id = $3
			FOR UPDATE
		`
		err = tx.QueryRowContext(ctx, query, projectID, scope.TeamID, queriableID).Scan(&dbID, &currentID, &currentDesc)
	default:
		return nil, fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load permission for update: %w", err)
	}

	newID := currentID
	if patch.ID != nil {
		newID = *patch.ID
	}
	newDesc := currentDesc
	if patch.Description != nil {
		newDesc = sql.NullString{String: *patch.Description, Valid: *patch.Description != ""}
	}

	updateQuery := `UPDATE permissions SET queriable_id = $1, description = $2 WHERE db_id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, newID, newDesc, dbID); err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}

	if parentDBIDs != nil {
		if err := replaceEdges(ctx, tx, dbID, parentDBIDs); err != nil {
			return nil, err
		}
	}

	parentIDs, err := parentQueriableIDs(ctx, tx, dbID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &entities.Permission{
		DBID:                     dbID,
		ID:                       newID,
		Scope:                    scope,
		Description:              newDesc.String,
		InheritFromPermissionIDs: parentIDs,
	}, nil
}

// Delete removes the permission identified by queriableID within the given
// scope. Edges owned by the permission as child go with it (cascade); edges
// in other permissions that referenced it as parent are left dangling.
func (r *PostgresPermissionRepository) Delete(ctx context.Context, projectID string, scope entities.Scope, queriableID string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, fmt.Errorf("invalid scope: %w", err)
	}

	var (
		res sql.Result
		err error
	)

	switch scope.Kind {
	case entities.ScopeGlobal, entities.ScopeAnyTeam:
		scopeValue, _ := scopeColumnValue(scope)
		query := `
			DELETE FROM permissions
			WHERE project_config_id = (SELECT config_id FROM projects WHERE id = $1)
				AND scope = $2 AND queriable_id = $3
		`
		res, err = r.db.ExecContext(ctx, query, projectID, scopeValue, queriableID)
	case entities.ScopeSpecificTeam:
		query := `
			DELETE FROM permissions
			WHERE project_id = $1 AND team_id = $2 AND queriable_id = $3
		`
		res, err = r.db.ExecContext(ctx, query, projectID, scope.TeamID, queriableID)
	default:
		return false, fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete permission: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete permission: %w", err)
	}

	return affected > 0, nil
}

// UpsertEdges atomically replaces the full parent edge set of the child
// permission.
func (r *PostgresPermissionRepository) UpsertEdges(ctx context.Context, childDBID string, parentDBIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceEdges(ctx, tx, childDBID, parentDBIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *PostgresPermissionRepository) teamExists(ctx context.Context, projectID, teamID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM teams WHERE project_id = $1 AND team_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, projectID, teamID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check team existence: %w", err)
	}
	return exists, nil
}

// attachParentIDs loads the parent edges of all given permissions in one
// query and fills InheritFromPermissionIDs. An edge whose parent row no
// longer exists is a consistency violation and is surfaced, not skipped.
func (r *PostgresPermissionRepository) attachParentIDs(ctx context.Context, perms []*entities.Permission) error {
	if len(perms) == 0 {
		return nil
	}

	byDBID := make(map[string]*entities.Permission, len(perms))
	dbIDs := make([]string, 0, len(perms))
	for _, p := range perms {
		byDBID[p.DBID] = p
		dbIDs = append(dbIDs, p.DBID)
	}

	query := `
		SELECT e.child_db_id, e.parent_db_id, parent.queriable_id
		FROM permission_edges e
		LEFT JOIN permissions parent ON parent.db_id = e.parent_db_id
		WHERE e.child_db_id = ANY($1::uuid[])
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(dbIDs))
	if err != nil {
		return fmt.Errorf("failed to load permission edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			childDBID  string
			parentDBID string
			parentID   sql.NullString
		)
		if err := rows.Scan(&childDBID, &parentDBID, &parentID); err != nil {
			return fmt.Errorf("failed to scan permission edge: %w", err)
		}
		if !parentID.Valid {
			return apperrors.Consistencyf("permission %s has an edge to missing parent %s", childDBID, parentDBID)
		}
		child, ok := byDBID[childDBID]
		if !ok {
			return apperrors.Consistencyf("edge query returned unknown child %s", childDBID)
		}
		child.InheritFromPermissionIDs = append(child.InheritFromPermissionIDs, parentID.String)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating permission edges: %w", err)
	}

	return nil
}

// replaceEdges deletes all parent edges of the child and re-creates the
// given set within the caller's transaction.
func replaceEdges(ctx context.Context, tx *sql.Tx, childDBID string, parentDBIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_edges WHERE child_db_id = $1`, childDBID); err != nil {
		return fmt.Errorf("failed to delete permission edges: %w", err)
	}

	if len(parentDBIDs) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO permission_edges (child_db_id, parent_db_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for _, parentDBID := range parentDBIDs {
		if _, err := stmt.ExecContext(ctx, childDBID, parentDBID); err != nil {
			return fmt.Errorf("failed to insert permission edge: %w", err)
		}
	}

	return nil
}

// parentQueriableIDs returns the queriable IDs of the child's parents within
// the caller's transaction.
func parentQueriableIDs(ctx context.Context, tx *sql.Tx, childDBID string) ([]string, error) {
	query := `
		SELECT parent.queriable_id
		FROM permission_edges e
		JOIN permissions parent ON parent.db_id = e.parent_db_id
		WHERE e.child_db_id = $1
	`
	rows, err := tx.QueryContext(ctx, query, childDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent permissions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan parent permission: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parent permissions: %w", err)
	}

	return ids, nil
}

// scanPermissions reads permission rows produced by the shared column list
// (db_id, scope, queriable_id, description, team_id).
func scanPermissions(rows *sql.Rows) ([]*entities.Permission, error) {
	var perms []*entities.Permission
	for rows.Next() {
		var (
			perm        entities.Permission
			scopeValue  string
			description sql.NullString
			teamID      sql.NullString
		)
		if err := rows.Scan(&perm.DBID, &scopeValue, &perm.ID, &description, &teamID); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		scope, err := scopeFromRow(scopeValue, teamID)
		if err != nil {
			return nil, err
		}
		perm.Scope = scope
		perm.Description = description.String
		perms = append(perms, &perm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}

	return perms, nil
}

func scanPermissionRow(row *sql.Row) (*entities.Permission, error) {
	var (
		perm        entities.Permission
		scopeValue  string
		description sql.NullString
		teamID      sql.NullString
	)
	if err := row.Scan(&perm.DBID, &scopeValue, &perm.ID, &description, &teamID); err != nil {
		return nil, err
	}
	scope, err := scopeFromRow(scopeValue, teamID)
	if err != nil {
		return nil, err
	}
	perm.Scope = scope
	perm.Description = description.String
	return &perm, nil
}

// scopeFromRow derives the scope union from the persisted columns. GLOBAL
// rows are global; TEAM rows with a team owner are specific-team, otherwise
// any-team.
func scopeFromRow(scopeValue string, teamID sql.NullString) (entities.Scope, error) {
	switch scopeValue {
	case scopeValueGlobal:
		if teamID.Valid {
			return entities.Scope{}, apperrors.Consistencyf("global permission owned by team %s", teamID.String)
		}
		return entities.GlobalScope(), nil
	case scopeValueTeam:
		if teamID.Valid {
			return entities.SpecificTeamScope(teamID.String), nil
		}
		return entities.AnyTeamScope(), nil
	default:
		return entities.Scope{}, apperrors.Consistencyf("unknown scope column value %q", scopeValue)
	}
}
