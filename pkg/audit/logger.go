package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/roster/pkg/contextkeys"
	"github.com/platinummonkey/roster/pkg/observability"
)

// Searcher is implemented by loggers that can read their events back.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// Logger is the interface for audit logging
type Logger interface {
	// Log writes one event. Implementations may fill ID and Timestamp.
	Log(ctx context.Context, event *AuditEvent) error

	// LogAuthorization records an authorization decision about subjectID.
	LogAuthorization(ctx context.Context, actorID, subjectID, organizationID string, resourceType ResourceType, status EventStatus, message string) error

	// LogRoleChange records a role change of subjectID with its before/after state.
	LogRoleChange(ctx context.Context, actorID, subjectID, organizationID string, changes *ChangeDetails, message string) error

	// LogHTTPRequest records a request (for middleware)
	LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error

	// Close flushes and releases the destination
	Close() error
}

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey = contextkeys.AuditLoggerKey

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NewNoOpLogger()
}

// NewEvent builds an event stamped now, carrying the request id from ctx
// and an initialized Metadata map.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

func authorizationEvent(ctx context.Context, actorID, subjectID, organizationID string, resourceType ResourceType, status EventStatus, message string) *AuditEvent {
	event := NewEvent(ctx, EventTypeAuthzPermissionCheck, status)
	event.ActorID = actorID
	event.SubjectID = subjectID
	event.OrganizationID = organizationID
	event.ResourceType = resourceType
	event.Message = message
	return event
}

func roleChangeEvent(ctx context.Context, actorID, subjectID, organizationID string, changes *ChangeDetails, message string) *AuditEvent {
	event := NewEvent(ctx, EventTypeAuthzRoleChange, EventStatusSuccess)
	event.ActorID = actorID
	event.SubjectID = subjectID
	event.OrganizationID = organizationID
	event.ResourceType = ResourceTypeRoleAssignment
	event.Changes = changes
	event.Message = message
	return event
}

func httpRequestEvent(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) *AuditEvent {
	status := EventStatusSuccess
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		status = EventStatusDenied
	case statusCode >= 400:
		status = EventStatusFailure
	}

	event := NewEvent(ctx, EventTypeAccessRequest, status)
	event.ActorID = observability.GetIdentityID(ctx)
	event.ResourceType = ResourceTypeHTTPRequest
	event.StatusCode = statusCode
	event.Metadata["duration_ms"] = duration.Milliseconds()
	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return event
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// noOpLogger discards events; it is the default when auditing is off.
type noOpLogger struct{}

// NewNoOpLogger returns a Logger that drops every event.
func NewNoOpLogger() Logger { return noOpLogger{} }

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }

func (noOpLogger) LogAuthorization(context.Context, string, string, string, ResourceType, EventStatus, string) error {
	return nil
}

func (noOpLogger) LogRoleChange(context.Context, string, string, string, *ChangeDetails, string) error {
	return nil
}

func (noOpLogger) LogHTTPRequest(context.Context, *http.Request, int, time.Duration, error) error {
	return nil
}

func (noOpLogger) Close() error { return nil }
