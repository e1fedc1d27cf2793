// Package config loads roster configuration from ROSTER_* environment
// variables and validates it before the service starts.
//
// Server:
//
//	ROSTER_HOST="0.0.0.0"
//	ROSTER_PORT="8080"
//	ROSTER_HEALTH_PORT="9090"
//	ROSTER_READ_TIMEOUT="15s"
//	ROSTER_MAX_BODY_BYTES="1048576"
//
// Storage and Redis:
//
//	ROSTER_POSTGRES_URL="postgres://roster@localhost/roster?sslmode=disable"
//	ROSTER_POSTGRES_MAX_CONNS="20"
//	ROSTER_RUN_MIGRATIONS="true"
//	ROSTER_REDIS_URL="redis://localhost:6379/0"  # optional, enables distributed locks and rate limits
//
// Engine:
//
//	ROSTER_HIERARCHY_FILE="/etc/roster/hierarchy.yaml"
//	ROSTER_CASCADE_DEPTH="1"
//	ROSTER_BULK_WORKERS="1"
//	ROSTER_LOCK_TTL="10s"
//	ROSTER_ORG_CACHE_TTL="5m"
//	ROSTER_SWEEP_SCHEDULE="@every 15m"  # empty disables the expiry sweep
//
// Rate limiting and audit:
//
//	ROSTER_RATE_LIMIT_REQUESTS="60"
//	ROSTER_RATE_LIMIT_WINDOW="1m"
//	ROSTER_AUDIT_BACKEND="db"  # db, file, multi, none
//	ROSTER_AUDIT_FILE_PATH="/var/log/roster/audit"
//
// Observability:
//
//	ROSTER_LOG_LEVEL="info"  # debug, info, warn, error
//	ROSTER_METRICS_ENABLED="true"
//	ROSTER_OTEL_ENABLED="true"
//	ROSTER_OTEL_ENDPOINT="otel-collector:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
