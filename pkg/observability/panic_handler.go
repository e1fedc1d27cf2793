package observability

import (
	"net/http"
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack. Call it deferred at
// the top of goroutines that must not take the process down, such as
// scheduled jobs.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverMiddleware turns a handler panic into a 500 response.
func RecoverMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logPanic(logger.WithField("request_id", GetRequestID(r.Context())), r.Method+" "+r.URL.Path, rec)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func logPanic(logger *Logger, where string, value interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   value,
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
