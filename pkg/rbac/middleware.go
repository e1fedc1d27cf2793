package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/roster/pkg/httputil"
	"github.com/platinummonkey/roster/pkg/middleware"
)

// PermissionMiddleware gates handlers of other services on Engine.Authorize.
type PermissionMiddleware struct {
	engine *Engine
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(engine *Engine) *PermissionMiddleware {
	return &PermissionMiddleware{engine: engine}
}

// Require lets the request through only if the requester holds
// resource:action. The organization comes from the {organization_id} route
// variable or the organization_id query parameter; without one the check
// runs in the system scope.
func (pm *PermissionMiddleware) Require(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester, ok := requireRequester(w, r)
			if !ok {
				return
			}
			if pm.allow(w, r, requester, resource, action, requestOrganization(r)) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireForOthers is Require for routes about the {identity_id} route
// variable: an identity asking about itself always passes.
func (pm *PermissionMiddleware) RequireForOthers(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		gated := pm.Require(resource, action)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester := middleware.IdentityFromRequest(r)
			if requester != "" && requester == mux.Vars(r)["identity_id"] {
				next.ServeHTTP(w, r)
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}

// allow authorizes requester for resource:action in organizationID and
// writes the error response when it may not proceed.
func (pm *PermissionMiddleware) allow(w http.ResponseWriter, r *http.Request, requester string, resource Resource, action Action, organizationID *string) bool {
	decision, err := pm.engine.Authorize(r.Context(), requester, action, resource, organizationID)
	if err != nil {
		writeEngineError(w, r, err)
		return false
	}
	if !decision.Allowed {
		httputil.WriteErrorResponse(w, http.StatusForbidden, httputil.ErrorResponse{
			Error: decision.Reason,
			Code:  "permission_denied",
		})
		return false
	}
	return true
}

// RequireAny lets the request through if any one permission is held.
func (pm *PermissionMiddleware) RequireAny(permissions ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester := middleware.IdentityFromRequest(r)
			if requester == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			org := requestOrganization(r)
			for _, p := range permissions {
				decision, err := pm.engine.Authorize(r.Context(), requester, p.Action, p.Resource, org)
				if err != nil {
					writeEngineError(w, r, err)
					return
				}
				if decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteErrorResponse(w, http.StatusForbidden, httputil.ErrorResponse{
				Error: "insufficient permissions",
				Code:  "permission_denied",
			})
		})
	}
}

func requestOrganization(r *http.Request) *string {
	if org := mux.Vars(r)["organization_id"]; org != "" {
		return &org
	}
	return httputil.ParseQueryOptional(r, "organization_id")
}
