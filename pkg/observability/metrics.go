package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Engine metrics
	DecisionsTotal            *prometheus.CounterVec
	ResolveDuration           *prometheus.HistogramVec
	SkippedRecordsTotal       *prometheus.CounterVec
	TransitionsTotal          *prometheus.CounterVec
	AssignmentsTotal          *prometheus.CounterVec
	BulkItemsTotal            *prometheus.CounterVec
	CompensationFailuresTotal prometheus.Counter
	LockWaitDuration          prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Expiry sweep metrics
	ExpiredRecordsTotal *prometheus.CounterVec
	SweepRunsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_authorization_decisions_total",
				Help: "Authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_role_resolution_duration_seconds",
				Help:    "Time spent loading and resolving effective roles",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"scope_kind"},
		),
		SkippedRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_skipped_records_total",
				Help: "Documents and assignments ignored during derivation",
			},
			[]string{"kind", "reason"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_role_transitions_total",
				Help: "Role transitions by final status",
			},
			[]string{"status"},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_role_assignments_total",
				Help: "Role assignment and revocation attempts by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		BulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_bulk_assignment_items_total",
				Help: "Bulk assignment items by outcome",
			},
			[]string{"outcome"},
		),
		CompensationFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roster_compensation_failures_total",
				Help: "Transitions that could neither complete nor restore the previous role",
			},
		),
		LockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roster_lock_wait_duration_seconds",
				Help:    "Time spent acquiring per-subject role locks",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ExpiredRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_expired_records_total",
				Help: "Documents and assignments deactivated by the expiry sweep",
			},
			[]string{"kind"},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_expiry_sweeps_total",
				Help: "Expiry sweep runs by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.DecisionsTotal,
		m.ResolveDuration,
		m.SkippedRecordsTotal,
		m.TransitionsTotal,
		m.AssignmentsTotal,
		m.BulkItemsTotal,
		m.CompensationFailuresTotal,
		m.LockWaitDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.ExpiredRecordsTotal,
		m.SweepRunsTotal,
	)

	return m
}

// The Record helpers are safe to call on a nil *Metrics so that components
// can run without a registry.

func (m *Metrics) RecordDecision(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.DecisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResolve(system bool, d time.Duration) {
	if m == nil {
		return
	}
	kind := "organization"
	if system {
		kind = "system"
	}
	m.ResolveDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordSkipped(kind, reason string) {
	if m == nil {
		return
	}
	m.SkippedRecordsTotal.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordAssignment(operation, outcome string) {
	if m == nil {
		return
	}
	m.AssignmentsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordBulkItem(outcome string) {
	if m == nil {
		return
	}
	m.BulkItemsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCompensationFailure() {
	if m == nil {
		return
	}
	m.CompensationFailuresTotal.Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// ObserveStorage records one storage call and its outcome.
func (m *Metrics) ObserveStorage(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordSweep(documents, assignments int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("success").Inc()
	m.ExpiredRecordsTotal.WithLabelValues("document").Add(float64(documents))
	m.ExpiredRecordsTotal.WithLabelValues("assignment").Add(float64(assignments))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template over the raw path so that
// identity ids do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
