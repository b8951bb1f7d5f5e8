package services

import (
	"context"
	"fmt"

	"github.com/hamasaki/kengen/internal/apperrors"
	"github.com/hamasaki/kengen/internal/entities"
	"github.com/hamasaki/kengen/internal/repositories"
)

// PermissionDraft contains the caller-supplied fields of a new permission
type PermissionDraft struct {
	ID                       string
	Description              string
	InheritFromPermissionIDs []string
}

// PermissionPatch contains the fields of a permission update. Nil fields are
// left unchanged. A non-nil InheritFromPermissionIDs replaces the whole edge
// set; an empty non-nil slice removes every edge.
type PermissionPatch struct {
	ID                       *string
	Description              *string
	InheritFromPermissionIDs []string
}

// GrantUpdate is one entry of a batch grant/revoke request
type GrantUpdate struct {
	PermissionID string
	Grant        bool // true grants the permission, false revokes it
}

// PermissionServiceInterface defines the interface for permission resolution
// and mutation
type PermissionServiceInterface interface {
	ListPermissions(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error)
	ListPotentialParents(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error)
	CreatePermission(ctx context.Context, projectID string, scope entities.Scope, draft *PermissionDraft) (*entities.Permission, error)
	UpdatePermission(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *PermissionPatch) (*entities.Permission, error)
	DeletePermission(ctx context.Context, projectID string, scope entities.Scope, queriableID string) error
	ResolveEffectivePermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error)
	CheckUserPermission(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, permissionID string) (*entities.Permission, error)
	ListDirectPermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error)
	GrantOrRevokeDirectPermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, updates []GrantUpdate) error
}

// PermissionService implements scope-hierarchy rules, effective-permission
// resolution and validated CRUD on permissions and their inheritance edges.
// It is stateless; all state lives in the repositories.
type PermissionService struct {
	permRepo    repositories.PermissionRepository
	memberRepo  repositories.MembershipRepository
	projectRepo repositories.ProjectRepository
	teamRepo    repositories.TeamRepository
}

// NewPermissionService creates a new PermissionService
func NewPermissionService(
	permRepo repositories.PermissionRepository,
	memberRepo repositories.MembershipRepository,
	projectRepo repositories.ProjectRepository,
	teamRepo repositories.TeamRepository,
) *PermissionService {
	return &PermissionService{
		permRepo:    permRepo,
		memberRepo:  memberRepo,
		projectRepo: projectRepo,
		teamRepo:    teamRepo,
	}
}

// ListPermissions returns the permissions defined at the given scope, in
// store order.
func (s *PermissionService) ListPermissions(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	return s.permRepo.ListByScope(ctx, projectID, scope)
}

// ListPotentialParents returns every permission the given scope may legally
// inherit from: the union of ListPermissions over the scope's candidate
// parent scopes.
func (s *PermissionService) ListPotentialParents(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error) {
	candidateScopes, err := scope.CandidateParentScopes()
	if err != nil {
		return nil, err
	}

	var parents []*entities.Permission
	for _, candidateScope := range candidateScopes {
		perms, err := s.permRepo.ListByScope(ctx, projectID, candidateScope)
		if err != nil {
			return nil, err
		}
		parents = append(parents, perms...)
	}

	return parents, nil
}

// CreatePermission validates the draft's inheritance edges against the
// scope's potential parents and persists the permission with its full edge
// set as one unit. Nothing is persisted when any edge fails to validate.
func (s *PermissionService) CreatePermission(ctx context.Context, projectID string, scope entities.Scope, draft *PermissionDraft) (*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	if draft == nil || draft.ID == "" {
		return nil, fmt.Errorf("permission ID is required")
	}

	project, err := s.projectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, &apperrors.ProjectNotFoundError{ProjectID: projectID}
	}

	parentDBIDs, err := s.resolveParentDBIDs(ctx, projectID, scope, draft.InheritFromPermissionIDs)
	if err != nil {
		return nil, err
	}

	return s.permRepo.Create(ctx, projectID, scope, &repositories.PermissionDraft{
		ID:          draft.ID,
		Description: draft.Description,
	}, parentDBIDs)
}

// UpdatePermission applies the patch to an existing permission. A present
// InheritFromPermissionIDs replaces the whole edge set, validated exactly as
// in create. Renaming the queriable ID leaves edges intact; they reference
// the stable DBID.
func (s *PermissionService) UpdatePermission(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *PermissionPatch) (*entities.Permission, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	if patch == nil {
		patch = &PermissionPatch{}
	}

	project, err := s.projectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, &apperrors.ProjectNotFoundError{ProjectID: projectID}
	}

	var parentDBIDs []string
	if patch.InheritFromPermissionIDs != nil {
		parentDBIDs, err = s.resolveParentDBIDs(ctx, projectID, scope, patch.InheritFromPermissionIDs)
		if err != nil {
			return nil, err
		}
		if parentDBIDs == nil {
			parentDBIDs = []string{}
		}
	}

	perm, err := s.permRepo.Update(ctx, projectID, scope, queriableID, &repositories.PermissionPatch{
		ID:          patch.ID,
		Description: patch.Description,
	}, parentDBIDs)
	if err != nil {
		return nil, err
	}
	if perm == nil {
		return nil, &apperrors.PermissionNotFoundError{PermissionID: queriableID}
	}

	return perm, nil
}

// DeletePermission removes the permission identified by queriableID at the
// given scope. Other permissions' edges that referenced it as parent are not
// inspected or repaired; resolution surfaces them as consistency failures.
func (s *PermissionService) DeletePermission(ctx context.Context, projectID string, scope entities.Scope, queriableID string) error {
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}

	switch scope.Kind {
	case entities.ScopeGlobal, entities.ScopeAnyTeam:
		project, err := s.projectRepo.GetByID(ctx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return &apperrors.ProjectNotFoundError{ProjectID: projectID}
		}
	case entities.ScopeSpecificTeam:
		exists, err := s.teamRepo.Exists(ctx, projectID, scope.TeamID)
		if err != nil {
			return err
		}
		if !exists {
			return &apperrors.TeamNotFoundError{TeamID: scope.TeamID}
		}
	default:
		return fmt.Errorf("unknown scope kind: %d", int(scope.Kind))
	}

	deleted, err := s.permRepo.Delete(ctx, projectID, scope, queriableID)
	if err != nil {
		return err
	}
	if !deleted {
		return &apperrors.PermissionNotFoundError{PermissionID: queriableID}
	}

	return nil
}

// ResolveEffectivePermissions computes the transitive closure of the user's
// direct grants through inheritance edges.
//
// The candidate set spans every scope reachable through legal inheritance
// from the membership's own type (team resolution can climb into any-team
// and global parents), while the seed grants stay restricted to permissions
// the membership type itself can hold. Traversal is a local work stack with
// a visited set: each permission is visited at most once, so diamond shapes
// resolve each ancestor exactly once and a cyclic edge set still terminates
// (cycles are tolerated, not supported). Result order is unspecified.
func (s *PermissionService) ResolveEffectivePermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
	if err := permType.Validate(); err != nil {
		return nil, err
	}

	candidateScopes, err := traversalScopes(permType, teamID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*entities.Permission)
	byDBID := make(map[string]*entities.Permission)
	for _, candidateScope := range candidateScopes {
		perms, err := s.permRepo.ListByScope(ctx, projectID, candidateScope)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			byID[p.ID] = p
			byDBID[p.DBID] = p
		}
	}

	member, err := s.memberRepo.GetMember(ctx, projectID, userID, teamID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, &apperrors.UserNotFoundError{ProjectID: projectID, UserID: userID, TeamID: teamID}
	}

	// Seed the work stack with the membership's direct grants of the
	// requested type. A grant that does not resolve to any known permission
	// means the store is corrupt.
	var stack []string
	for _, grantDBID := range member.DirectPermissionDBIDs {
		p, ok := byDBID[grantDBID]
		if !ok {
			others, findErr := s.permRepo.FindByDBIDs(ctx, []string{grantDBID})
			if findErr != nil {
				return nil, findErr
			}
			if len(others) == 0 {
				return nil, apperrors.Consistencyf("direct grant of user %s references missing permission %s", userID, grantDBID)
			}
			// The grant belongs to the other permission type; it is out of
			// scope for this resolution, not an error.
			continue
		}
		if !permType.Matches(p.Scope) {
			continue
		}
		stack = append(stack, p.ID)
	}

	result := make(map[string]*entities.Permission)
	for len(stack) > 0 {
		currentID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		current, ok := byID[currentID]
		if !ok {
			return nil, apperrors.Consistencyf("permission %s referenced during resolution is absent from the candidate set", currentID)
		}
		if _, seen := result[current.ID]; seen {
			continue
		}
		result[current.ID] = current
		stack = append(stack, current.InheritFromPermissionIDs...)
	}

	perms := make([]*entities.Permission, 0, len(result))
	for _, p := range result {
		perms = append(perms, p)
	}

	return perms, nil
}

// CheckUserPermission resolves the user's effective permissions and looks up
// permissionID among them. When the permission is not held, the opposite
// permission type is probed purely to upgrade the error to a scope mismatch
// diagnostic; access is never granted across types.
func (s *PermissionService) CheckUserPermission(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, permissionID string) (*entities.Permission, error) {
	perms, err := s.ResolveEffectivePermissions(ctx, projectID, userID, teamID, permType)
	if err != nil {
		return nil, err
	}

	for _, p := range perms {
		if p.ID == permissionID {
			return p, nil
		}
	}

	if mismatch := s.probeOtherType(ctx, projectID, teamID, permType, permissionID); mismatch != nil {
		return nil, mismatch
	}

	return nil, &apperrors.PermissionNotFoundError{PermissionID: permissionID}
}

// probeOtherType checks whether permissionID exists under the opposite
// permission type and, if so, returns the scope-mismatch diagnostic.
// Probe failures fall back to the plain not-found error.
func (s *PermissionService) probeOtherType(ctx context.Context, projectID, teamID string, permType entities.PermissionType, permissionID string) error {
	other := entities.PermissionTypeGlobal
	if permType == entities.PermissionTypeGlobal {
		other = entities.PermissionTypeTeam
	}

	otherScopes, err := other.CandidateScopes(teamID)
	if err != nil {
		return nil
	}

	for _, otherScope := range otherScopes {
		perm, err := s.permRepo.FindByQueriableID(ctx, projectID, otherScope, permissionID)
		if err != nil || perm == nil {
			continue
		}
		return &apperrors.PermissionScopeMismatchError{
			PermissionID:  permissionID,
			FoundScope:    perm.Scope,
			ExpectedTypes: []entities.PermissionType{permType},
		}
	}

	return nil
}

// ListDirectPermissions returns the permissions the user holds by direct
// grant only, without inheritance expansion, filtered to the given type.
func (s *PermissionService) ListDirectPermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
	if err := permType.Validate(); err != nil {
		return nil, err
	}

	member, err := s.memberRepo.GetMember(ctx, projectID, userID, teamID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, &apperrors.UserNotFoundError{ProjectID: projectID, UserID: userID, TeamID: teamID}
	}

	granted, err := s.permRepo.FindByDBIDs(ctx, member.DirectPermissionDBIDs)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(granted))
	for _, p := range granted {
		found[p.DBID] = true
	}
	for _, dbID := range member.DirectPermissionDBIDs {
		if !found[dbID] {
			return nil, apperrors.Consistencyf("direct grant of user %s references missing permission %s", userID, dbID)
		}
	}

	perms := make([]*entities.Permission, 0, len(granted))
	for _, p := range granted {
		if permType.Matches(p.Scope) {
			perms = append(perms, p)
		}
	}

	return perms, nil
}

// GrantOrRevokeDirectPermissions applies a batch of direct grant and revoke
// updates for a member. Every permission ID is validated against the type's
// candidate set before any write is applied, so an invalid entry rejects the
// whole batch. Individual grants and revocations are idempotent.
func (s *PermissionService) GrantOrRevokeDirectPermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, updates []GrantUpdate) error {
	if err := permType.Validate(); err != nil {
		return err
	}

	project, err := s.projectRepo.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return &apperrors.ProjectNotFoundError{ProjectID: projectID}
	}

	member, err := s.memberRepo.GetMember(ctx, projectID, userID, teamID)
	if err != nil {
		return err
	}
	if member == nil {
		return &apperrors.UserNotFoundError{ProjectID: projectID, UserID: userID, TeamID: teamID}
	}

	candidateScopes, err := permType.CandidateScopes(teamID)
	if err != nil {
		return err
	}

	// Narrower scopes come first in the candidate list, so a team-specific
	// permission shadows an any-team permission with the same queriable ID.
	byID := make(map[string]*entities.Permission)
	for _, candidateScope := range candidateScopes {
		perms, listErr := s.permRepo.ListByScope(ctx, projectID, candidateScope)
		if listErr != nil {
			return listErr
		}
		for _, p := range perms {
			if _, exists := byID[p.ID]; !exists {
				byID[p.ID] = p
			}
		}
	}

	// Validate the whole batch before applying anything.
	resolved := make([]*entities.Permission, len(updates))
	for i, update := range updates {
		p, ok := byID[update.PermissionID]
		if !ok {
			return &apperrors.PermissionNotFoundError{PermissionID: update.PermissionID}
		}
		resolved[i] = p
	}

	for i, update := range updates {
		if update.Grant {
			err = s.memberRepo.CreateGrant(ctx, projectID, userID, teamID, resolved[i].DBID)
		} else {
			err = s.memberRepo.DeleteGrant(ctx, projectID, userID, teamID, resolved[i].DBID)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// resolveParentDBIDs validates every inherit-from ID against the scope's
// potential parents and maps it to the parent's stable DBID. The first
// unresolved ID rejects the whole operation. The potential-parent listing
// runs even for an empty ID set so a specific-team scope still fails with
// TeamNotFound when the team is absent.
func (s *PermissionService) resolveParentDBIDs(ctx context.Context, projectID string, scope entities.Scope, inheritIDs []string) ([]string, error) {
	potentialParents, err := s.ListPotentialParents(ctx, projectID, scope)
	if err != nil {
		return nil, err
	}

	var parentDBIDs []string
	for _, inheritID := range inheritIDs {
		var parent *entities.Permission
		for _, candidate := range potentialParents {
			if candidate.ID == inheritID {
				parent = candidate
				break
			}
		}
		if parent == nil {
			return nil, &apperrors.PermissionNotFoundError{PermissionID: inheritID}
		}
		parentDBIDs = append(parentDBIDs, parent.DBID)
	}

	return parentDBIDs, nil
}

// traversalScopes returns the scopes loaded into the resolution candidate
// set for a membership type: everything reachable through legal inheritance
// from the narrowest scope the type can hold.
func traversalScopes(permType entities.PermissionType, teamID string) ([]entities.Scope, error) {
	switch permType {
	case entities.PermissionTypeTeam:
		return entities.SpecificTeamScope(teamID).CandidateParentScopes()
	case entities.PermissionTypeGlobal:
		return []entities.Scope{entities.GlobalScope()}, nil
	default:
		return nil, fmt.Errorf("unknown permission type: %s", string(permType))
	}
}
