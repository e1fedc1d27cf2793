package rbac

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/roster/pkg/httputil"
	"github.com/platinummonkey/roster/pkg/middleware"
	"github.com/platinummonkey/roster/pkg/observability"
)

// Handlers exposes the engine over HTTP. The requesting identity is taken
// from middleware.IdentityMiddleware; request bodies never choose it.
//
// Questions about another identity's roles or permissions need role:read in
// the organization asked about. Anyone may ask about themselves.
type Handlers struct {
	engine *Engine
	access *PermissionMiddleware
}

// NewHandlers creates new RBAC handlers. A nil access builds one over engine.
func NewHandlers(engine *Engine, access *PermissionMiddleware) *Handlers {
	if access == nil {
		access = NewPermissionMiddleware(engine)
	}
	return &Handlers{engine: engine, access: access}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	readRoles := h.access.RequireForOthers(ResourceRole, ActionRead)

	router.HandleFunc("/authz/check", h.CheckPermission).Methods(http.MethodPost)

	router.Handle("/identities/{identity_id}/roles", readRoles(http.HandlerFunc(h.GetEffectiveRoles))).Methods(http.MethodGet)
	router.Handle("/identities/{identity_id}/permissions", readRoles(http.HandlerFunc(h.GetEffectivePermissions))).Methods(http.MethodGet)

	router.HandleFunc("/roles/transitions", h.TransitionRole).Methods(http.MethodPost)
	router.HandleFunc("/roles/assignments/bulk", h.BulkAssignRoles).Methods(http.MethodPost)
	router.HandleFunc("/roles/assignments", h.AssignRole).Methods(http.MethodPost)
	router.HandleFunc("/roles/assignments/{assignment_id}", h.RevokeRole).Methods(http.MethodDelete)

	router.HandleFunc("/documents/validate", h.ValidateDocument).Methods(http.MethodPost)
}

// CheckPermissionRequest is the body of POST /authz/check. IdentityID
// defaults to the requester.
type CheckPermissionRequest struct {
	IdentityID     string   `json:"identity_id,omitempty"`
	Resource       Resource `json:"resource"`
	Action         Action   `json:"action"`
	OrganizationID *string  `json:"organization_id,omitempty"`
}

// CheckPermission answers with a decision. Denials are 200 responses with
// allowed=false; the caller decides what to do with them.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	var req CheckPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IdentityID == "" {
		req.IdentityID = requester
	}
	if req.IdentityID != requester && !h.access.allow(w, r, requester, ResourceRole, ActionRead, req.OrganizationID) {
		return
	}

	decision, err := h.engine.Authorize(r.Context(), req.IdentityID, req.Action, req.Resource, req.OrganizationID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, decision)
}

// GetEffectiveRoles handles GET /identities/{identity_id}/roles
func (h *Handlers) GetEffectiveRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}
	identityID, ok := httputil.ParsePathStringOrError(w, r, "identity_id")
	if !ok {
		return
	}

	set, err := h.engine.ResolveEffectiveRoles(r.Context(), identityID, httputil.ParseQueryOptional(r, "organization_id"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, set)
}

// EffectivePermissionsResponse lists the permissions of one identity in one scope.
type EffectivePermissionsResponse struct {
	IdentityID  string       `json:"identity_id"`
	Scope       Scope        `json:"scope"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
}

// GetEffectivePermissions handles GET /identities/{identity_id}/permissions
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}
	identityID, ok := httputil.ParsePathStringOrError(w, r, "identity_id")
	if !ok {
		return
	}

	perms, set, err := h.engine.EffectivePermissions(r.Context(), identityID, httputil.ParseQueryOptional(r, "organization_id"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	_ = httputil.WriteSuccess(w, EffectivePermissionsResponse{
		IdentityID:  set.IdentityID,
		Scope:       set.Scope,
		Roles:       set.Roles,
		Permissions: perms,
	})
}

// transitionErrorResponse carries the partial result next to the error so
// callers can see what was revoked or restored.
type transitionErrorResponse struct {
	httputil.ErrorResponse
	Result *TransitionResult `json:"result,omitempty"`
}

// TransitionRole handles POST /roles/transitions
func (h *Handlers) TransitionRole(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.RequestedBy = requester

	result, err := h.engine.TransitionRole(r.Context(), req)
	if err != nil {
		if result == nil {
			writeEngineError(w, r, err)
			return
		}
		status, resp := errorResponse(err)
		logEngineError(r, status, err)
		_ = httputil.WriteJSON(w, status, transitionErrorResponse{ErrorResponse: resp, Result: result})
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// AssignRole handles POST /roles/assignments
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	var req AssignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.RequestedBy = requester

	assignment, err := h.engine.AssignRole(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, assignment)
}

// BulkAssignRoles handles POST /roles/assignments/bulk. Per-item failures
// are reported in the body; the status is 200 unless the batch itself is invalid.
func (h *Handlers) BulkAssignRoles(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	var req BulkAssignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.RequestedBy = requester

	result, err := h.engine.BulkAssignRoles(r.Context(), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// RevokeRole handles DELETE /roles/assignments/{assignment_id}?reason=
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	assignmentID, ok := httputil.ParsePathStringOrError(w, r, "assignment_id")
	if !ok {
		return
	}

	revoked, err := h.engine.RevokeRole(r.Context(), RevokeRequest{
		AssignmentID: assignmentID,
		RequestedBy:  requester,
		Reason:       strings.TrimSpace(r.URL.Query().Get("reason")),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, revoked)
}

// ValidateDocument handles POST /documents/validate
func (h *Handlers) ValidateDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}
	var doc Document
	if !httputil.ParseJSONOrError(w, r, &doc) {
		return
	}
	if err := h.engine.ValidateDocument(doc); err != nil {
		writeEngineError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]bool{"valid": true})
}

func requireRequester(w http.ResponseWriter, r *http.Request) (string, bool) {
	requester := middleware.IdentityFromRequest(r)
	if requester == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	return requester, true
}

// errorResponse maps an engine error to a status code and body.
func errorResponse(err error) (int, httputil.ErrorResponse) {
	resp := httputil.ErrorResponse{Error: err.Error(), Code: ErrorCode(err)}

	var tc *TransitionConflict
	switch {
	case errors.Is(err, ErrCompensationFailure):
		resp.RequiresIntervention = true
		return http.StatusInternalServerError, resp
	case errors.As(err, &tc):
		if tc.Reason == ReasonHierarchyViolation {
			return http.StatusForbidden, resp
		}
		return http.StatusConflict, resp
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidDocumentRoleCombination):
		return http.StatusBadRequest, resp
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, resp
	default:
		return http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal server error", Code: "internal"}
	}
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	logEngineError(r, status, err)
	httputil.WriteErrorResponse(w, status, resp)
}

func logEngineError(r *http.Request, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("role request failed")
}
