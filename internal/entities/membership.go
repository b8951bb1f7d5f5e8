package entities

import "fmt"

// Project represents a tenant in the project registry.
// Global and any-team permissions are owned by the project's shared
// configuration (ConfigID); specific-team permissions are owned by a team.
type Project struct {
	ID       string // Project identifier as chosen by the tenant
	ConfigID string // Identity of the project's shared configuration
}

// TeamMembership associates a user with a team inside a project and carries
// the user's direct permission grants for that team.
type TeamMembership struct {
	ProjectID string
	UserID    string
	TeamID    string
	// DirectPermissionDBIDs holds the store identities (DBIDs) of the
	// permissions the member explicitly holds, independent of inheritance.
	DirectPermissionDBIDs []string
}

// Validate checks if the membership is valid
func (m *TeamMembership) Validate() error {
	if m.ProjectID == "" {
		return fmt.Errorf("project ID is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if m.TeamID == "" {
		return fmt.Errorf("team ID is required")
	}
	return nil
}
