// Package apperrors defines the error taxonomy returned by the permission
// engine. Every error is a distinct type so callers can classify failures
// with errors.As without string matching.
package apperrors

import (
	"fmt"

	"github.com/hamasaki/kengen/internal/entities"
)

// ProjectNotFoundError indicates the project ID does not resolve in the
// project registry.
type ProjectNotFoundError struct {
	ProjectID string
}

func (e *ProjectNotFoundError) Error() string {
	return fmt.Sprintf("project not found: %s", e.ProjectID)
}

// TeamNotFoundError indicates a scope referenced a team absent from the
// project.
type TeamNotFoundError struct {
	TeamID string
}

func (e *TeamNotFoundError) Error() string {
	return fmt.Sprintf("team not found: %s", e.TeamID)
}

// UserNotFoundError indicates no membership record exists for the
// (project, user, team) triple.
type UserNotFoundError struct {
	ProjectID string
	UserID    string
	TeamID    string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %s has no membership in team %s of project %s", e.UserID, e.TeamID, e.ProjectID)
}

// PermissionNotFoundError indicates a permission ID did not resolve in the
// relevant candidate set. It is returned by inheritance-edge validation,
// direct lookup, and grant/revoke validation.
type PermissionNotFoundError struct {
	PermissionID string
}

func (e *PermissionNotFoundError) Error() string {
	return fmt.Sprintf("permission not found: %s", e.PermissionID)
}

// PermissionScopeMismatchError is a diagnostic error: the permission exists,
// but only at a scope the caller was not checking. It never grants access
// across scopes.
type PermissionScopeMismatchError struct {
	PermissionID  string
	FoundScope    entities.Scope
	ExpectedTypes []entities.PermissionType
}

func (e *PermissionScopeMismatchError) Error() string {
	return fmt.Sprintf("permission %s exists at scope %s, not in any of the expected types %v",
		e.PermissionID, e.FoundScope, e.ExpectedTypes)
}

// ConsistencyError indicates the store is in a state the engine considers
// impossible, such as a direct grant pointing at a permission absent from a
// freshly loaded candidate set. It is a defect, not a normal error kind, and
// must never be retried or swallowed.
type ConsistencyError struct {
	Message string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency violation: %s", e.Message)
}

// Consistencyf builds a ConsistencyError with a formatted message
func Consistencyf(format string, args ...interface{}) *ConsistencyError {
	return &ConsistencyError{Message: fmt.Sprintf(format, args...)}
}
