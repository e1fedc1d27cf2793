// Package observability carries the service's logging, metrics, tracing,
// health and shutdown plumbing.
//
// Logger is a JSON slog wrapper with field helpers; NewDiscardLogger is the
// default for components built without one. Metrics registers the roster_*
// Prometheus collectors; its Record helpers are nil-safe so a nil *Metrics
// disables collection. InitOTel installs OTLP trace and meter providers.
//
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// HealthChecker folds named probes into liveness and readiness handlers;
// ShutdownManager drains servers then runs hooks in reverse order.
package observability
