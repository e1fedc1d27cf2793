package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// Hierarchy replaces the built-in role table when set.
	Hierarchy *Hierarchy

	// CascadeDepth is how many franchise levels franchise_admin reaches.
	CascadeDepth int

	// BulkWorkers bounds concurrent bulk assignment items.
	BulkWorkers int

	Locker      Locker
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	AuditLogger audit.Logger
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CascadeDepth: DefaultCascadeDepth,
		BulkWorkers:  1,
	}
}

// Manager wires the SQL store, engine, HTTP handlers, permission middleware
// and expiry sweeper over one database.
type Manager struct {
	db         *sql.DB
	store      *SQLStore
	engine     *Engine
	handlers   *Handlers
	middleware *PermissionMiddleware
	sweeper    *Sweeper
}

// NewManager creates a new RBAC manager. orgSource may be nil.
func NewManager(db *sql.DB, orgSource OrganizationSource, cfg Config) *Manager {
	store := NewSQLStore(db, WithStoreMetrics(cfg.Metrics))

	opts := []Option{
		WithCascadeDepth(cfg.CascadeDepth),
		WithBulkWorkers(cfg.BulkWorkers),
		WithMetrics(cfg.Metrics),
	}
	if cfg.Hierarchy != nil {
		opts = append(opts, WithHierarchy(cfg.Hierarchy))
	}
	if cfg.Locker != nil {
		opts = append(opts, WithLocker(cfg.Locker))
	}
	if cfg.Logger != nil {
		opts = append(opts, WithLogger(cfg.Logger))
	}
	if cfg.AuditLogger != nil {
		opts = append(opts, WithAuditLogger(cfg.AuditLogger))
	}
	engine := NewEngine(store, orgSource, opts...)
	access := NewPermissionMiddleware(engine)

	return &Manager{
		db:         db,
		store:      store,
		engine:     engine,
		handlers:   NewHandlers(engine, access),
		middleware: access,
		sweeper:    NewSweeper(store, engine.logger, engine.metrics, engine.auditLogger),
	}
}

// Initialize applies pending schema migrations.
func (m *Manager) Initialize(ctx context.Context) error {
	applied, err := RunMigrations(ctx, m.db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if applied > 0 {
		m.engine.logger.WithField("applied", applied).Info("schema migrations applied")
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

func (m *Manager) Store() *SQLStore { return m.store }

func (m *Manager) Engine() *Engine { return m.engine }

func (m *Manager) Middleware() *PermissionMiddleware { return m.middleware }

func (m *Manager) Sweeper() *Sweeper { return m.sweeper }

// Stats counts the records that currently contribute roles.
type Stats struct {
	Identities        int64 `json:"identities"`
	ActiveDocuments   int64 `json:"active_documents"`
	ActiveAssignments int64 `json:"active_assignments"`
	Masters           int64 `json:"masters"`
	Admins            int64 `json:"admins"`
}

// GetStats returns RBAC statistics
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.Identities, "SELECT COUNT(*) FROM identities", nil},
		{&stats.ActiveDocuments, "SELECT COUNT(*) FROM documents WHERE is_active", nil},
		{&stats.ActiveAssignments, "SELECT COUNT(*) FROM role_assignments WHERE is_active", nil},
		{&stats.Masters, "SELECT COUNT(*) FROM role_assignments WHERE is_active AND role = $1", []interface{}{string(RoleMaster)}},
		{&stats.Admins, "SELECT COUNT(*) FROM role_assignments WHERE is_active AND role = $1", []interface{}{string(RoleAdmin)}},
	}
	for _, q := range queries {
		if err := m.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	return stats, nil
}
