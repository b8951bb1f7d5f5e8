package entities

import "fmt"

// Permission represents a named capability defined at exactly one scope.
// Example: a "read" permission defined globally, inherited by a team-local
// "admin" permission.
type Permission struct {
	DBID                     string   // Store-assigned stable identity; edges and grants reference this
	ID                       string   // Tenant-unique, human-chosen identifier ("queriable ID")
	Scope                    Scope    // Where the permission is defined
	Description              string   // Display-only, optional
	InheritFromPermissionIDs []string // Queriable IDs of direct parents (set semantics, order irrelevant)
}

// Validate checks if the permission is valid
func (p *Permission) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("permission ID is required")
	}
	if err := p.Scope.Validate(); err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}
	return nil
}

// InheritsFrom reports whether id is among the permission's direct parents
func (p *Permission) InheritsFrom(id string) bool {
	for _, parentID := range p.InheritFromPermissionIDs {
		if parentID == id {
			return true
		}
	}
	return false
}

// PermissionType selects which side of the scope hierarchy a membership's
// direct grants live in. A "team" grant can reference specific-team and
// any-team permissions; a "global" grant references global permissions only.
type PermissionType string

const (
	PermissionTypeTeam   PermissionType = "team"
	PermissionTypeGlobal PermissionType = "global"
)

// Validate checks if the permission type is one of the known values
func (t PermissionType) Validate() error {
	switch t {
	case PermissionTypeTeam, PermissionTypeGlobal:
		return nil
	default:
		return fmt.Errorf("unknown permission type: %s", string(t))
	}
}

// CandidateScopes returns the scopes whose permissions a direct grant of
// this type may reference. This mirrors what the membership record itself
// can hold, not the full parent-candidate hierarchy.
func (t PermissionType) CandidateScopes(teamID string) ([]Scope, error) {
	switch t {
	case PermissionTypeTeam:
		return []Scope{SpecificTeamScope(teamID), AnyTeamScope()}, nil
	case PermissionTypeGlobal:
		return []Scope{GlobalScope()}, nil
	default:
		return nil, fmt.Errorf("unknown permission type: %s", string(t))
	}
}

// Matches reports whether a permission at the given scope is visible to
// grants of this type.
func (t PermissionType) Matches(scope Scope) bool {
	switch scope.Kind {
	case ScopeGlobal:
		return t == PermissionTypeGlobal
	case ScopeAnyTeam, ScopeSpecificTeam:
		return t == PermissionTypeTeam
	default:
		return false
	}
}
