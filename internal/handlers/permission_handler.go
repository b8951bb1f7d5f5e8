// Package handlers exposes the permission engine over HTTP JSON. It is thin
// glue: request parsing, error-to-status mapping and response shaping. All
// authorization semantics live in the services package.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hamasaki/kengen/internal/apperrors"
	"github.com/hamasaki/kengen/internal/entities"
	"github.com/hamasaki/kengen/internal/infrastructure/metrics"
	"github.com/hamasaki/kengen/internal/services"
)

// PermissionHandler serves the permission admin API
type PermissionHandler struct {
	service  services.PermissionServiceInterface
	exporter *metrics.PrometheusExporter
}

// NewPermissionHandler creates a new PermissionHandler. exporter may be nil,
// in which case engine metrics are not recorded.
func NewPermissionHandler(service services.PermissionServiceInterface, exporter *metrics.PrometheusExporter) *PermissionHandler {
	return &PermissionHandler{service: service, exporter: exporter}
}

// RegisterRoutes attaches all permission routes to the router
func (h *PermissionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/projects/{projectId}/permissions", h.ListPermissions).Methods(http.MethodGet)
	router.HandleFunc("/projects/{projectId}/permissions", h.CreatePermission).Methods(http.MethodPost)
	router.HandleFunc("/projects/{projectId}/permissions/potential-parents", h.ListPotentialParents).Methods(http.MethodGet)
	router.HandleFunc("/projects/{projectId}/permissions/{permissionId}", h.UpdatePermission).Methods(http.MethodPatch)
	router.HandleFunc("/projects/{projectId}/permissions/{permissionId}", h.DeletePermission).Methods(http.MethodDelete)

	router.HandleFunc("/projects/{projectId}/teams/{teamId}/users/{userId}/permissions", h.ListUserPermissions).Methods(http.MethodGet)
	router.HandleFunc("/projects/{projectId}/teams/{teamId}/users/{userId}/permissions", h.UpdateDirectPermissions).Methods(http.MethodPost)
	router.HandleFunc("/projects/{projectId}/teams/{teamId}/users/{userId}/permissions/{permissionId}", h.CheckUserPermission).Methods(http.MethodGet)
}

type scopeResponse struct {
	Kind   string `json:"kind"`
	TeamID string `json:"teamId,omitempty"`
}

type permissionResponse struct {
	ID                       string        `json:"id"`
	Scope                    scopeResponse `json:"scope"`
	Description              string        `json:"description,omitempty"`
	InheritFromPermissionIDs []string      `json:"inheritFromPermissionIds"`
}

type createPermissionRequest struct {
	ID                       string   `json:"id"`
	Description              string   `json:"description"`
	InheritFromPermissionIDs []string `json:"inheritFromPermissionIds"`
}

type updatePermissionRequest struct {
	ID                       *string  `json:"id"`
	Description              *string  `json:"description"`
	InheritFromPermissionIDs []string `json:"inheritFromPermissionIds"`
}

type grantUpdateRequest struct {
	PermissionID string `json:"permissionId"`
	Grant        bool   `json:"grant"`
}

type updateDirectPermissionsRequest struct {
	Updates []grantUpdateRequest `json:"updates"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ListPermissions handles GET /projects/{projectId}/permissions
func (h *PermissionHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SCOPE", err)
		return
	}

	perms, err := h.service.ListPermissions(r.Context(), mux.Vars(r)["projectId"], scope)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPermissionResponses(perms))
}

// ListPotentialParents handles GET /projects/{projectId}/permissions/potential-parents
func (h *PermissionHandler) ListPotentialParents(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SCOPE", err)
		return
	}

	perms, err := h.service.ListPotentialParents(r.Context(), mux.Vars(r)["projectId"], scope)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPermissionResponses(perms))
}

// CreatePermission handles POST /projects/{projectId}/permissions
func (h *PermissionHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SCOPE", err)
		return
	}

	var req createPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}

	perm, err := h.service.CreatePermission(r.Context(), mux.Vars(r)["projectId"], scope, &services.PermissionDraft{
		ID:                       req.ID,
		Description:              req.Description,
		InheritFromPermissionIDs: req.InheritFromPermissionIDs,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toPermissionResponse(perm))
}

// UpdatePermission handles PATCH /projects/{projectId}/permissions/{permissionId}
func (h *PermissionHandler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SCOPE", err)
		return
	}

	var req updatePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}

	vars := mux.Vars(r)
	perm, err := h.service.UpdatePermission(r.Context(), vars["projectId"], scope, vars["permissionId"], &services.PermissionPatch{
		ID:                       req.ID,
		Description:              req.Description,
		InheritFromPermissionIDs: req.InheritFromPermissionIDs,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPermissionResponse(perm))
}

// DeletePermission handles DELETE /projects/{projectId}/permissions/{permissionId}
func (h *PermissionHandler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SCOPE", err)
		return
	}

	vars := mux.Vars(r)
	if err := h.service.DeletePermission(r.Context(), vars["projectId"], scope, vars["permissionId"]); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserPermissions handles GET /projects/{projectId}/teams/{teamId}/users/{userId}/permissions.
// By default it resolves the transitive closure of the user's direct grants;
// with ?direct=true it returns the direct grants only.
func (h *PermissionHandler) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	permType, err := permTypeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", err)
		return
	}

	vars := mux.Vars(r)
	var perms []*entities.Permission
	if r.URL.Query().Get("direct") == "true" {
		perms, err = h.service.ListDirectPermissions(r.Context(), vars["projectId"], vars["userId"], vars["teamId"], permType)
	} else {
		perms, err = h.service.ResolveEffectivePermissions(r.Context(), vars["projectId"], vars["userId"], vars["teamId"], permType)
		if h.exporter != nil {
			h.exporter.RecordResolution()
		}
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPermissionResponses(perms))
}

// CheckUserPermission handles GET /projects/{projectId}/teams/{teamId}/users/{userId}/permissions/{permissionId}
func (h *PermissionHandler) CheckUserPermission(w http.ResponseWriter, r *http.Request) {
	permType, err := permTypeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", err)
		return
	}

	vars := mux.Vars(r)
	perm, err := h.service.CheckUserPermission(r.Context(), vars["projectId"], vars["userId"], vars["teamId"], permType, vars["permissionId"])
	if h.exporter != nil {
		h.exporter.RecordCheck(err == nil)
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPermissionResponse(perm))
}

// UpdateDirectPermissions handles POST /projects/{projectId}/teams/{teamId}/users/{userId}/permissions
func (h *PermissionHandler) UpdateDirectPermissions(w http.ResponseWriter, r *http.Request) {
	permType, err := permTypeFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", err)
		return
	}

	var req updateDirectPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}

	updates := make([]services.GrantUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, services.GrantUpdate{PermissionID: u.PermissionID, Grant: u.Grant})
	}

	vars := mux.Vars(r)
	if err := h.service.GrantOrRevokeDirectPermissions(r.Context(), vars["projectId"], vars["userId"], vars["teamId"], permType, updates); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scopeFromQuery(r *http.Request) (entities.Scope, error) {
	query := r.URL.Query()
	return entities.ParseScope(query.Get("scope"), query.Get("teamId"))
}

func permTypeFromQuery(r *http.Request) (entities.PermissionType, error) {
	permType := entities.PermissionType(r.URL.Query().Get("type"))
	if err := permType.Validate(); err != nil {
		return "", err
	}
	return permType, nil
}

func toPermissionResponse(p *entities.Permission) permissionResponse {
	resp := permissionResponse{
		ID:                       p.ID,
		Description:              p.Description,
		InheritFromPermissionIDs: p.InheritFromPermissionIDs,
		Scope:                    scopeResponse{Kind: scopeKindName(p.Scope)},
	}
	if p.Scope.Kind == entities.ScopeSpecificTeam {
		resp.Scope.TeamID = p.Scope.TeamID
	}
	if resp.InheritFromPermissionIDs == nil {
		resp.InheritFromPermissionIDs = []string{}
	}
	return resp
}

func toPermissionResponses(perms []*entities.Permission) []permissionResponse {
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	return out
}

func scopeKindName(s entities.Scope) string {
	switch s.Kind {
	case entities.ScopeGlobal:
		return "global"
	case entities.ScopeAnyTeam:
		return "any-team"
	case entities.ScopeSpecificTeam:
		return "specific-team"
	default:
		return "unknown"
	}
}

// respondEngineError translates the engine's error taxonomy to HTTP status
// codes. Consistency violations are deliberately opaque 500s.
func respondEngineError(w http.ResponseWriter, err error) {
	var (
		projectErr     *apperrors.ProjectNotFoundError
		teamErr        *apperrors.TeamNotFoundError
		userErr        *apperrors.UserNotFoundError
		permissionErr  *apperrors.PermissionNotFoundError
		mismatchErr    *apperrors.PermissionScopeMismatchError
		consistencyErr *apperrors.ConsistencyError
	)

	switch {
	case errors.As(err, &projectErr):
		respondError(w, http.StatusNotFound, "PROJECT_NOT_FOUND", err)
	case errors.As(err, &teamErr):
		respondError(w, http.StatusNotFound, "TEAM_NOT_FOUND", err)
	case errors.As(err, &userErr):
		respondError(w, http.StatusNotFound, "USER_NOT_FOUND", err)
	case errors.As(err, &permissionErr):
		respondError(w, http.StatusNotFound, "PERMISSION_NOT_FOUND", err)
	case errors.As(err, &mismatchErr):
		respondError(w, http.StatusBadRequest, "PERMISSION_SCOPE_MISMATCH", err)
	case errors.As(err, &consistencyErr):
		log.Printf("consistency violation: %v", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Error: "internal error"})
	default:
		log.Printf("internal error: %v", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Error: "internal error"})
	}
}

func respondError(w http.ResponseWriter, status int, code string, err error) {
	respondJSON(w, status, errorResponse{Code: code, Error: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
