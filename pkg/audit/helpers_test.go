package audit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// recordingLogger keeps events in memory (thread-safe for async use).
type recordingLogger struct {
	mu     sync.Mutex
	logged []*AuditEvent
	fail   bool
	closed bool
}

func (l *recordingLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("destination unavailable")
	}
	l.logged = append(l.logged, event)
	return nil
}

func (l *recordingLogger) LogAuthorization(ctx context.Context, actorID, subjectID, organizationID string, resourceType ResourceType, status EventStatus, message string) error {
	return l.Log(ctx, authorizationEvent(ctx, actorID, subjectID, organizationID, resourceType, status, message))
}

func (l *recordingLogger) LogRoleChange(ctx context.Context, actorID, subjectID, organizationID string, changes *ChangeDetails, message string) error {
	return l.Log(ctx, roleChangeEvent(ctx, actorID, subjectID, organizationID, changes, message))
}

func (l *recordingLogger) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return l.Log(ctx, httpRequestEvent(ctx, r, statusCode, duration, err))
}

func (l *recordingLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *recordingLogger) events() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*AuditEvent(nil), l.logged...)
}
