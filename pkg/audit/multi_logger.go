package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MultiLogger fans each event out to several destinations. In async mode
// Log returns immediately and failures are collected for Errors.
type MultiLogger struct {
	loggers []Logger
	async   bool

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewMultiLogger creates a synchronous multi-logger.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync sets whether logging should be asynchronous
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log writes event to every destination. A failing destination does not
// stop the others.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if !m.async {
		var errs []error
		for _, l := range m.loggers {
			if err := l.Log(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, l := range m.loggers {
		m.wg.Add(1)
		// each destination gets its own copy; DBLogger writes back the ID
		copied := *event
		go func(l Logger, ev *AuditEvent) {
			defer m.wg.Done()
			if err := l.Log(context.WithoutCancel(ctx), ev); err != nil {
				m.mu.Lock()
				m.errs = append(m.errs, err)
				m.mu.Unlock()
			}
		}(l, &copied)
	}
	return nil
}

func (m *MultiLogger) LogAuthorization(ctx context.Context, actorID, subjectID, organizationID string, resourceType ResourceType, status EventStatus, message string) error {
	return m.Log(ctx, authorizationEvent(ctx, actorID, subjectID, organizationID, resourceType, status, message))
}

func (m *MultiLogger) LogRoleChange(ctx context.Context, actorID, subjectID, organizationID string, changes *ChangeDetails, message string) error {
	return m.Log(ctx, roleChangeEvent(ctx, actorID, subjectID, organizationID, changes, message))
}

func (m *MultiLogger) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return m.Log(ctx, httpRequestEvent(ctx, r, statusCode, duration, err))
}

// Wait blocks until pending async writes finish.
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains the failures of async writes.
func (m *MultiLogger) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

// Close waits for pending writes and closes every destination.
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
