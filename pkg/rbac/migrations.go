package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/roster/pkg/orgs"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

const (
	activeAssignmentIndex = "uq_role_assignments_active"
	activeAdminIndex      = "uq_role_assignments_one_admin"
)

// GetMigrations returns all schema migrations in order. The statements are
// portable between PostgreSQL and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL:         orgs.Schema,
		},
		{
			Version:     2,
			Description: "Create identities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS identities (
					id TEXT PRIMARY KEY,
					kind VARCHAR(32) NOT NULL,
					verified BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     3,
			Description: "Create documents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					identity_id TEXT NOT NULL,
					organization_id TEXT,
					document_type VARCHAR(64) NOT NULL,
					granted_role VARCHAR(32) NOT NULL,
					valid_from TIMESTAMP,
					valid_until TIMESTAMP,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					CHECK (granted_role IN ('worker', 'supervisor', 'manager', 'owner', 'franchisee', 'franchisor')),
					CHECK (valid_until IS NULL OR valid_from IS NULL OR valid_until > valid_from)
				);

				CREATE INDEX IF NOT EXISTS idx_documents_identity_id ON documents(identity_id);
				CREATE INDEX IF NOT EXISTS idx_documents_valid_until ON documents(valid_until);
			`,
		},
		{
			Version:     4,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id TEXT PRIMARY KEY,
					identity_id TEXT NOT NULL,
					organization_id TEXT,
					role VARCHAR(32) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					assigned_by TEXT NOT NULL,
					assigned_at TIMESTAMP NOT NULL,
					valid_from TIMESTAMP,
					valid_until TIMESTAMP,
					revoked_at TIMESTAMP,
					revoked_by TEXT,
					revoke_reason TEXT,
					custom_permissions TEXT,
					access_restrictions TEXT,
					CHECK ((role = 'master' AND organization_id IS NULL) OR (role <> 'master' AND organization_id IS NOT NULL))
				);

				CREATE INDEX IF NOT EXISTS idx_role_assignments_identity_id ON role_assignments(identity_id);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_valid_until ON role_assignments(valid_until);
				CREATE UNIQUE INDEX IF NOT EXISTS ` + activeAssignmentIndex + `
					ON role_assignments (identity_id, COALESCE(organization_id, ''), role) WHERE is_active;
				CREATE UNIQUE INDEX IF NOT EXISTS ` + activeAdminIndex + `
					ON role_assignments (organization_id) WHERE is_active AND role = 'admin';
			`,
		},
	}
}

// RunMigrations applies pending migrations and returns how many ran.
func RunMigrations(ctx context.Context, db *sql.DB) (int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS roster_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM roster_migrations ORDER BY version")
	if err != nil {
		return 0, fmt.Errorf("failed to query migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	applied := 0
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO roster_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		applied++
	}

	return applied, nil
}
