package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamasaki/kengen/internal/apperrors"
	"github.com/hamasaki/kengen/internal/entities"
	"github.com/hamasaki/kengen/internal/services"
)

// stubService lets each test script the engine's behavior per operation.
type stubService struct {
	listPermissions      func(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error)
	listPotentialParents func(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error)
	createPermission     func(ctx context.Context, projectID string, scope entities.Scope, draft *services.PermissionDraft) (*entities.Permission, error)
	updatePermission     func(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *services.PermissionPatch) (*entities.Permission, error)
	deletePermission     func(ctx context.Context, projectID string, scope entities.Scope, queriableID string) error
	resolveEffective     func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error)
	checkUserPermission  func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, permissionID string) (*entities.Permission, error)
	listDirect           func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error)
	grantOrRevoke        func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, updates []services.GrantUpdate) error
}

func (s *stubService) ListPermissions(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error) {
	return s.listPermissions(ctx, projectID, scope)
}

func (s *stubService) ListPotentialParents(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error) {
	return s.listPotentialParents(ctx, projectID, scope)
}

func (s *stubService) CreatePermission(ctx context.Context, projectID string, scope entities.Scope, draft *services.PermissionDraft) (*entities.Permission, error) {
	return s.createPermission(ctx, projectID, scope, draft)
}

func (s *stubService) UpdatePermission(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *services.PermissionPatch) (*entities.Permission, error) {
	return s.updatePermission(ctx, projectID, scope, queriableID, patch)
}

func (s *stubService) DeletePermission(ctx context.Context, projectID string, scope entities.Scope, queriableID string) error {
	return s.deletePermission(ctx, projectID, scope, queriableID)
}

func (s *stubService) ResolveEffectivePermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
	return s.resolveEffective(ctx, projectID, userID, teamID, permType)
}

func (s *stubService) CheckUserPermission(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, permissionID string) (*entities.Permission, error) {
	return s.checkUserPermission(ctx, projectID, userID, teamID, permType, permissionID)
}

func (s *stubService) ListDirectPermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
	return s.listDirect(ctx, projectID, userID, teamID, permType)
}

func (s *stubService) GrantOrRevokeDirectPermissions(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, updates []services.GrantUpdate) error {
	return s.grantOrRevoke(ctx, projectID, userID, teamID, permType, updates)
}

func newTestRouter(stub *stubService) *mux.Router {
	router := mux.NewRouter()
	NewPermissionHandler(stub, nil).RegisterRoutes(router)
	return router
}

func TestListPermissions(t *testing.T) {
	stub := &stubService{
		listPermissions: func(ctx context.Context, projectID string, scope entities.Scope) ([]*entities.Permission, error) {
			assert.Equal(t, "p1", projectID)
			assert.Equal(t, entities.SpecificTeamScope("t1"), scope)
			return []*entities.Permission{
				{ID: "admin", Scope: entities.SpecificTeamScope("t1"), InheritFromPermissionIDs: []string{"write"}},
			}, nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/permissions?scope=specific-team&teamId=t1", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got []permissionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "admin", got[0].ID)
	assert.Equal(t, "specific-team", got[0].Scope.Kind)
	assert.Equal(t, "t1", got[0].Scope.TeamID)
	assert.Equal(t, []string{"write"}, got[0].InheritFromPermissionIDs)
}

func TestListPermissions_InvalidScope(t *testing.T) {
	router := newTestRouter(&stubService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/permissions?scope=everywhere", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var got errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "INVALID_SCOPE", got.Code)
}

func TestCreatePermission(t *testing.T) {
	stub := &stubService{
		createPermission: func(ctx context.Context, projectID string, scope entities.Scope, draft *services.PermissionDraft) (*entities.Permission, error) {
			assert.Equal(t, entities.GlobalScope(), scope)
			assert.Equal(t, "read", draft.ID)
			assert.Equal(t, []string{"base"}, draft.InheritFromPermissionIDs)
			return &entities.Permission{ID: draft.ID, Scope: scope, InheritFromPermissionIDs: draft.InheritFromPermissionIDs}, nil
		},
	}
	router := newTestRouter(stub)

	body, _ := json.Marshal(createPermissionRequest{ID: "read", InheritFromPermissionIDs: []string{"base"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/permissions?scope=global", bytes.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)

	var got permissionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "read", got.ID)
	assert.Equal(t, "global", got.Scope.Kind)
	assert.Empty(t, got.Scope.TeamID)
}

func TestCreatePermission_UnknownParent(t *testing.T) {
	stub := &stubService{
		createPermission: func(ctx context.Context, projectID string, scope entities.Scope, draft *services.PermissionDraft) (*entities.Permission, error) {
			return nil, &apperrors.PermissionNotFoundError{PermissionID: "ghost"}
		},
	}
	router := newTestRouter(stub)

	body, _ := json.Marshal(createPermissionRequest{ID: "read", InheritFromPermissionIDs: []string{"ghost"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/permissions?scope=global", bytes.NewReader(body)))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var got errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "PERMISSION_NOT_FOUND", got.Code)
}

func TestUpdatePermission_PartialPatch(t *testing.T) {
	stub := &stubService{
		updatePermission: func(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *services.PermissionPatch) (*entities.Permission, error) {
			assert.Equal(t, "admin", queriableID)
			require.NotNil(t, patch.Description)
			assert.Equal(t, "updated", *patch.Description)
			assert.Nil(t, patch.ID)
			assert.Nil(t, patch.InheritFromPermissionIDs, "absent edge field must stay nil")
			return &entities.Permission{ID: queriableID, Scope: scope, Description: *patch.Description}, nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch,
		"/projects/p1/permissions/admin?scope=any-team",
		bytes.NewReader([]byte(`{"description":"updated"}`))))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdatePermission_EmptyEdgeListIsNotNil(t *testing.T) {
	stub := &stubService{
		updatePermission: func(ctx context.Context, projectID string, scope entities.Scope, queriableID string, patch *services.PermissionPatch) (*entities.Permission, error) {
			require.NotNil(t, patch.InheritFromPermissionIDs, "explicit empty edge list must clear edges")
			assert.Empty(t, patch.InheritFromPermissionIDs)
			return &entities.Permission{ID: queriableID, Scope: scope}, nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch,
		"/projects/p1/permissions/admin?scope=any-team",
		bytes.NewReader([]byte(`{"inheritFromPermissionIds":[]}`))))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeletePermission(t *testing.T) {
	stub := &stubService{
		deletePermission: func(ctx context.Context, projectID string, scope entities.Scope, queriableID string) error {
			assert.Equal(t, "admin", queriableID)
			return nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/projects/p1/permissions/admin?scope=specific-team&teamId=t1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListUserPermissions_Effective(t *testing.T) {
	stub := &stubService{
		resolveEffective: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
			assert.Equal(t, "u1", userID)
			assert.Equal(t, "t1", teamID)
			assert.Equal(t, entities.PermissionTypeTeam, permType)
			return []*entities.Permission{
				{ID: "admin", Scope: entities.SpecificTeamScope("t1")},
				{ID: "write", Scope: entities.AnyTeamScope()},
				{ID: "read", Scope: entities.GlobalScope()},
			}, nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/u1/permissions?type=team", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got []permissionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 3)
}

func TestListUserPermissions_Direct(t *testing.T) {
	called := false
	stub := &stubService{
		listDirect: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
			called = true
			return []*entities.Permission{{ID: "admin", Scope: entities.SpecificTeamScope("t1")}}, nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/u1/permissions?type=team&direct=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called, "direct=true must route to the direct listing")
}

func TestListUserPermissions_UserNotFound(t *testing.T) {
	stub := &stubService{
		resolveEffective: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
			return nil, &apperrors.UserNotFoundError{ProjectID: projectID, UserID: userID, TeamID: teamID}
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/ghost/permissions?type=team", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var got errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "USER_NOT_FOUND", got.Code)
}

func TestListUserPermissions_MissingType(t *testing.T) {
	router := newTestRouter(&stubService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/u1/permissions", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckUserPermission_Held(t *testing.T) {
	stub := &stubService{
		checkUserPermission: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, permissionID string) (*entities.Permission, error) {
			assert.Equal(t, "read", permissionID)
			return &entities.Permission{ID: "read", Scope: entities.GlobalScope()}, nil
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/u1/permissions/read?type=global", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckUserPermission_ScopeMismatch(t *testing.T) {
	stub := &stubService{
		checkUserPermission: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, permissionID string) (*entities.Permission, error) {
			return nil, &apperrors.PermissionScopeMismatchError{
				PermissionID:  permissionID,
				FoundScope:    entities.GlobalScope(),
				ExpectedTypes: []entities.PermissionType{entities.PermissionTypeTeam},
			}
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/u1/permissions/read?type=team", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var got errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "PERMISSION_SCOPE_MISMATCH", got.Code)
}

func TestUpdateDirectPermissions(t *testing.T) {
	stub := &stubService{
		grantOrRevoke: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType, updates []services.GrantUpdate) error {
			require.Len(t, updates, 2)
			assert.Equal(t, services.GrantUpdate{PermissionID: "read", Grant: true}, updates[0])
			assert.Equal(t, services.GrantUpdate{PermissionID: "write", Grant: false}, updates[1])
			return nil
		},
	}
	router := newTestRouter(stub)

	body := []byte(`{"updates":[{"permissionId":"read","grant":true},{"permissionId":"write","grant":false}]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/teams/t1/users/u1/permissions?type=team", bytes.NewReader(body)))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConsistencyErrorIsOpaque(t *testing.T) {
	stub := &stubService{
		resolveEffective: func(ctx context.Context, projectID, userID, teamID string, permType entities.PermissionType) ([]*entities.Permission, error) {
			return nil, apperrors.Consistencyf("direct grant %s references a permission missing from the candidate set", "dbid-1")
		},
	}
	router := newTestRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/teams/t1/users/u1/permissions?type=team", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var got errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "INTERNAL", got.Code)
	assert.NotContains(t, got.Error, "dbid-1", "consistency details must not leak to clients")
}
