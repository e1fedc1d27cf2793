// Package contextkeys holds every context key the service sets on a request.
//
// Keys live in one place so packages that read a value never need to import
// the package that wrote it:
//
//	ctx = context.WithValue(ctx, contextkeys.IdentityIDKey, "id-123")
//	id := contextkeys.GetIdentityID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string (UUID).
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit events
	RequestIDKey Key = "request_id"

	// IdentityIDKey contains the requesting identity's ID string.
	// Set by: middleware.IdentityMiddleware
	// Used by: role handlers, rate limiting, audit events
	IdentityIDKey Key = "identity_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger
	// Set by: audit.Middleware
	AuditLoggerKey Key = "audit_logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithIdentityID adds the requesting identity to the context
func WithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, IdentityIDKey, identityID)
}

// GetIdentityID retrieves the requesting identity, or "" when anonymous.
func GetIdentityID(ctx context.Context) string {
	if id, ok := ctx.Value(IdentityIDKey).(string); ok {
		return id
	}
	return ""
}
