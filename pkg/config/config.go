package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/roster/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Redis is optional; without it locks and rate limits stay in process.
	Redis RedisConfig

	// Engine configuration
	Engine EngineConfig

	RateLimit RateLimitConfig

	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MaxBodyBytes caps request bodies; bulk assignments are the largest.
	MaxBodyBytes int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds PostgreSQL connection settings
type StorageConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// RunMigrations applies pending schema migrations at startup.
	RunMigrations bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// Enabled reports whether a Redis URL was configured.
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// EngineConfig tunes role resolution and role-change orchestration.
type EngineConfig struct {
	// HierarchyFile optionally overrides the built-in role table.
	HierarchyFile string
	CascadeDepth  int
	BulkWorkers   int

	LockTTL     time.Duration
	LockMaxWait time.Duration

	OrgCacheSize int
	OrgCacheTTL  time.Duration

	// SweepSchedule is a cron expression for the expiry sweep; empty disables it.
	SweepSchedule string
}

// RateLimitConfig limits role mutations per identity.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// AuditConfig selects where audit events go.
type AuditConfig struct {
	// Backend is one of db, file, multi (db and file) or none.
	Backend      string
	FilePath     string
	FileRotate   bool
	FileMaxSize  int64
	FileMaxFiles int
	// LogAllRequests records every HTTP request, not only failures.
	LogAllRequests bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Engine:        loadEngineConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ROSTER_HOST", "0.0.0.0"),
		Port:            getEnv("ROSTER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ROSTER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ROSTER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ROSTER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ROSTER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ROSTER_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("ROSTER_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:     getEnv("ROSTER_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("ROSTER_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("ROSTER_POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("ROSTER_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		RunMigrations:   getEnvBool("ROSTER_RUN_MIGRATIONS", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("ROSTER_REDIS_URL", ""),
		Password: getEnv("ROSTER_REDIS_PASSWORD", ""),
		DB:       getEnvInt("ROSTER_REDIS_DB", 0),
		PoolSize: getEnvInt("ROSTER_REDIS_POOL_SIZE", 10),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		HierarchyFile: getEnv("ROSTER_HIERARCHY_FILE", ""),
		CascadeDepth:  getEnvInt("ROSTER_CASCADE_DEPTH", 1),
		BulkWorkers:   getEnvInt("ROSTER_BULK_WORKERS", 1),
		LockTTL:       getEnvDuration("ROSTER_LOCK_TTL", 10*time.Second),
		LockMaxWait:   getEnvDuration("ROSTER_LOCK_MAX_WAIT", 5*time.Second),
		OrgCacheSize:  getEnvInt("ROSTER_ORG_CACHE_SIZE", 1024),
		OrgCacheTTL:   getEnvDuration("ROSTER_ORG_CACHE_TTL", 5*time.Minute),
		SweepSchedule: getEnv("ROSTER_SWEEP_SCHEDULE", "@every 15m"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("ROSTER_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("ROSTER_RATE_LIMIT_REQUESTS", 60),
		Window:            getEnvDuration("ROSTER_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("ROSTER_RATE_LIMIT_BURST", 10),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Backend:        strings.ToLower(getEnv("ROSTER_AUDIT_BACKEND", "db")),
		FilePath:       getEnv("ROSTER_AUDIT_FILE_PATH", "/var/log/roster/audit"),
		FileRotate:     getEnvBool("ROSTER_AUDIT_FILE_ROTATE", true),
		FileMaxSize:    getEnvInt64("ROSTER_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxFiles:   getEnvInt("ROSTER_AUDIT_FILE_MAX_FILES", 10),
		LogAllRequests: getEnvBool("ROSTER_AUDIT_ALL_REQUESTS", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("ROSTER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ROSTER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ROSTER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ROSTER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ROSTER_OTEL_SERVICE_NAME", "roster"),
		OTelServiceVersion: getEnv("ROSTER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ROSTER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ROSTER_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.MaxOpenConns < 1 {
		return fmt.Errorf("postgres max connections must be at least 1")
	}

	if c.Engine.CascadeDepth < 0 {
		return fmt.Errorf("cascade depth must not be negative")
	}
	if c.Engine.BulkWorkers < 1 {
		return fmt.Errorf("bulk workers must be at least 1")
	}
	if c.Engine.LockTTL <= 0 || c.Engine.LockMaxWait <= 0 {
		return fmt.Errorf("lock TTL and max wait must be positive")
	}
	if c.Engine.OrgCacheTTL <= 0 {
		return fmt.Errorf("organization cache TTL must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow < 1 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit needs a positive request count and window")
		}
		if c.RateLimit.Burst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
	}

	switch c.Audit.Backend {
	case "db", "none":
	case "file", "multi":
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path is required for %s audit backend", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("invalid audit backend: %s (must be db, file, multi, or none)", c.Audit.Backend)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel falls back to info for unrecognized levels.
func parseLogLevel(level string) observability.LogLevel {
	parsed, err := observability.ParseLogLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return parsed
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
