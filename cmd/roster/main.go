package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/config"
	"github.com/platinummonkey/roster/pkg/httputil"
	"github.com/platinummonkey/roster/pkg/middleware"
	"github.com/platinummonkey/roster/pkg/observability"
	"github.com/platinummonkey/roster/pkg/orgs"
	"github.com/platinummonkey/roster/pkg/rbac"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
	if err := run(logger); err != nil {
		logger.WithError(err).Error("roster exited")
		os.Exit(1)
	}
}

func run(logger *observability.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger = observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "roster")
	logger.WithField("version", version).Info("starting roster")

	ctx := context.Background()
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := connectDatabase(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	health := observability.NewHealthChecker(version)
	health.AddDatabase(db)

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		health.AddRedis(redisClient)
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
		logger.Info("redis connected, using distributed locks and rate limits")
	}

	auditLogger, err := newAuditLogger(ctx, cfg.Audit, db)
	if err != nil {
		return err
	}
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })

	rbacCfg := rbac.DefaultConfig()
	rbacCfg.CascadeDepth = cfg.Engine.CascadeDepth
	rbacCfg.BulkWorkers = cfg.Engine.BulkWorkers
	rbacCfg.Logger = logger
	rbacCfg.Metrics = metrics
	rbacCfg.AuditLogger = auditLogger
	if redisClient != nil {
		rbacCfg.Locker = rbac.NewRedisLocker(redisClient,
			rbac.WithLockTTL(cfg.Engine.LockTTL),
			rbac.WithLockMaxWait(cfg.Engine.LockMaxWait))
	}
	if cfg.Engine.HierarchyFile != "" {
		h, err := rbac.LoadHierarchyFile(cfg.Engine.HierarchyFile)
		if err != nil {
			return err
		}
		rbacCfg.Hierarchy = h
		recordHierarchyOverride(ctx, auditLogger, logger, cfg.Engine.HierarchyFile, h)
	}

	orgService := orgs.NewCachedService(orgs.NewPostgresService(db), cfg.Engine.OrgCacheSize, cfg.Engine.OrgCacheTTL, metrics)
	manager := rbac.NewManager(db, orgService, rbacCfg)
	if cfg.Storage.RunMigrations {
		if err := manager.Initialize(ctx); err != nil {
			return err
		}
	}

	scheduler := cron.New()
	if cfg.Engine.SweepSchedule != "" {
		if _, err := manager.Sweeper().Schedule(scheduler, cfg.Engine.SweepSchedule); err != nil {
			return err
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Engine.SweepSchedule).Info("expiry sweep scheduled")
	}
	shutdown.Register("cron", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	shutdown.Register("rate-limit-cleanup", func(context.Context) error { stopCleanup(); return nil })
	limiter := newRateLimiter(cleanupCtx, cfg.RateLimit, redisClient)

	router := mux.NewRouter()
	// route-level so metrics are labelled by path template
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(
		middleware.NewIdentityMiddleware("", false).Handler,
		audit.NewMiddleware(auditLogger, logger, cfg.Audit.LogAllRequests).Handler,
	)
	if limiter != nil {
		api.Use(mutationsOnly(middleware.RateLimit(limiter, logger)))
	}
	manager.RegisterRoutes(api)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.RecoverMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
		httputil.TimeoutMiddleware(cfg.Server.WriteTimeout),
	)(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, cfg.Observability.OTelServiceName)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.AddServer(server)

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.AddServer(healthServer)

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server")
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	if err := shutdown.WaitForSignal(waitCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("roster stopped")
	return nil
}

func connectDatabase(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func newAuditLogger(ctx context.Context, cfg config.AuditConfig, db *sql.DB) (audit.Logger, error) {
	fileLogger := func() (audit.Logger, error) {
		l, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.FilePath,
			Rotate:   cfg.FileRotate,
			MaxSize:  cfg.FileMaxSize,
			MaxFiles: cfg.FileMaxFiles,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		return l, nil
	}

	switch cfg.Backend {
	case "db":
		return audit.NewDBLogger(ctx, db)
	case "file":
		return fileLogger()
	case "multi":
		dbLogger, err := audit.NewDBLogger(ctx, db)
		if err != nil {
			return nil, err
		}
		fl, err := fileLogger()
		if err != nil {
			return nil, err
		}
		return audit.NewMultiLogger(dbLogger, fl), nil
	default:
		return audit.NewNoOpLogger(), nil
	}
}

func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client) middleware.Limiter {
	if !cfg.Enabled {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}
	if client != nil {
		return middleware.NewRedisRateLimiter(client, limits, "roster:ratelimit")
	}
	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

// mutationsOnly applies mw to requests that change state.
func mutationsOnly(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func recordHierarchyOverride(ctx context.Context, auditLogger audit.Logger, logger *observability.Logger, path string, h *rbac.Hierarchy) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthzHierarchyOverride, audit.EventStatusSuccess)
	event.ActorID = rbac.SystemActor
	event.ResourceType = audit.ResourceTypeHierarchy
	event.ResourceID = path
	event.Message = "role hierarchy loaded from " + path
	event.Metadata = map[string]interface{}{"roles": len(h.Roles())}
	if err := auditLogger.Log(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to audit hierarchy override")
	}
	logger.WithField("file", path).Info("role hierarchy override loaded")
}
