package entities

import "fmt"

// ScopeKind identifies where a permission lives in the scope hierarchy.
type ScopeKind int

const (
	// ScopeGlobal is a project-wide permission with no team attached.
	ScopeGlobal ScopeKind = iota
	// ScopeAnyTeam is a team permission defined once for every team in the
	// project.
	ScopeAnyTeam
	// ScopeSpecificTeam is a team permission belonging to exactly one team.
	ScopeSpecificTeam
)

// Scope is a tagged union: TeamID is set if and only if Kind is
// ScopeSpecificTeam.
type Scope struct {
	Kind   ScopeKind
	TeamID string
}

// GlobalScope returns the project-wide scope
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// AnyTeamScope returns the scope shared by every team in a project
func AnyTeamScope() Scope {
	return Scope{Kind: ScopeAnyTeam}
}

// SpecificTeamScope returns the scope of a single team
func SpecificTeamScope(teamID string) Scope {
	return Scope{Kind: ScopeSpecificTeam, TeamID: teamID}
}

// ParseScope builds a Scope from its wire representation. teamID is
// required for "specific-team" and rejected for the other kinds.
func ParseScope(kind, teamID string) (Scope, error) {
	switch kind {
	case "global":
		if teamID != "" {
			return Scope{}, fmt.Errorf("scope %s does not take a team ID", kind)
		}
		return GlobalScope(), nil
	case "any-team":
		if teamID != "" {
			return Scope{}, fmt.Errorf("scope %s does not take a team ID", kind)
		}
		return AnyTeamScope(), nil
	case "specific-team":
		if teamID == "" {
			return Scope{}, fmt.Errorf("scope %s requires a team ID", kind)
		}
		return SpecificTeamScope(teamID), nil
	default:
		return Scope{}, fmt.Errorf("unknown scope kind: %s", kind)
	}
}

// Validate checks the Kind/TeamID pairing invariant
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGlobal, ScopeAnyTeam:
		if s.TeamID != "" {
			return fmt.Errorf("scope %s must not carry a team ID", s.kindName())
		}
		return nil
	case ScopeSpecificTeam:
		if s.TeamID == "" {
			return fmt.Errorf("specific-team scope requires a team ID")
		}
		return nil
	default:
		return fmt.Errorf("unknown scope kind: %d", int(s.Kind))
	}
}

// CandidateParentScopes returns the scopes a permission at this scope may
// inherit from. Global permissions inherit only from global ones; any-team
// permissions additionally from global; specific-team permissions from all
// three levels.
func (s Scope) CandidateParentScopes() ([]Scope, error) {
	switch s.Kind {
	case ScopeGlobal:
		return []Scope{GlobalScope()}, nil
	case ScopeAnyTeam:
		return []Scope{GlobalScope(), AnyTeamScope()}, nil
	case ScopeSpecificTeam:
		return []Scope{GlobalScope(), AnyTeamScope(), SpecificTeamScope(s.TeamID)}, nil
	default:
		return nil, fmt.Errorf("unknown scope kind: %d", int(s.Kind))
	}
}

func (s Scope) kindName() string {
	switch s.Kind {
	case ScopeGlobal:
		return "global"
	case ScopeAnyTeam:
		return "any-team"
	case ScopeSpecificTeam:
		return "specific-team"
	default:
		return fmt.Sprintf("unknown(%d)", int(s.Kind))
	}
}

func (s Scope) String() string {
	if s.Kind == ScopeSpecificTeam {
		return "specific-team:" + s.TeamID
	}
	return s.kindName()
}
