package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/roster/pkg/observability"
)

// Middleware records HTTP requests to an audit Logger.
type Middleware struct {
	logger         Logger
	errorLogger    *observability.Logger
	logAllRequests bool // If false, only mutations, failures and sensitive paths
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger, errorLogger *observability.Logger, logAllRequests bool) *Middleware {
	if errorLogger == nil {
		errorLogger = observability.NewDiscardLogger()
	}
	return &Middleware{logger: logger, errorLogger: errorLogger, logAllRequests: logAllRequests}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with audit logging. The audit logger is
// also placed on the request context for handlers that use FromContext.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := WithLogger(r.Context(), m.logger)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		if !m.logAllRequests && !shouldLogRequest(r, rec.statusCode) {
			return
		}
		if err := m.logger.LogHTTPRequest(ctx, r, rec.statusCode, time.Since(start), nil); err != nil {
			m.errorLogger.WithError(err).WithField("path", r.URL.Path).Warn("failed to write audit event")
		}
	})
}

// shouldLogRequest keeps role mutations, failures and authorization
// checks; plain reads are skipped.
func shouldLogRequest(r *http.Request, statusCode int) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	if statusCode >= 400 {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/authz") || strings.HasPrefix(r.URL.Path, "/roles")
}
