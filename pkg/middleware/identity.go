package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/roster/pkg/contextkeys"
	"github.com/platinummonkey/roster/pkg/httputil"
)

// IdentityHeader is set by the upstream gateway after it authenticates the caller.
const IdentityHeader = "X-Identity-ID"

// IdentityMiddleware copies the authenticated identity from a trusted header
// onto the request context. Authentication itself happens upstream.
type IdentityMiddleware struct {
	header   string
	optional bool
}

// NewIdentityMiddleware reads identities from header (IdentityHeader when
// empty). When optional is false, requests without one get a 401.
func NewIdentityMiddleware(header string, optional bool) *IdentityMiddleware {
	if header == "" {
		header = IdentityHeader
	}
	return &IdentityMiddleware{header: header, optional: optional}
}

// Handler wraps next.
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identityID := strings.TrimSpace(r.Header.Get(m.header))
		if identityID == "" {
			if !m.optional {
				httputil.WriteUnauthorized(w, "missing "+m.header+" header")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithIdentityID(r.Context(), identityID)))
	})
}

// RequireIdentity rejects requests that reached it without an identity.
// It is used on routes mounted behind an optional IdentityMiddleware.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromRequest(r) == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromRequest returns the identity set by IdentityMiddleware.
func IdentityFromRequest(r *http.Request) string {
	return contextkeys.GetIdentityID(r.Context())
}
