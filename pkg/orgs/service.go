package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Schema creates the organizations table. It is portable between
// PostgreSQL and SQLite.
const Schema = `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		type VARCHAR(32) NOT NULL,
		parent_id TEXT REFERENCES organizations(id),
		owner_identity_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (parent_id IS NULL OR parent_id <> id)
	);

	CREATE INDEX IF NOT EXISTS idx_organizations_parent_id ON organizations(parent_id);
`

const orgColumns = `id, name, slug, type, parent_id, owner_identity_id, is_active, created_at, updated_at`

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, now: time.Now}
}

// CreateOrganization validates the parent link and inserts org.
func (s *PostgresService) CreateOrganization(ctx context.Context, org *Organization) error {
	if strings.TrimSpace(org.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !org.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInput, org.Type)
	}
	if org.OwnerIdentityID == "" {
		return fmt.Errorf("%w: owner_identity_id is required", ErrInvalidInput)
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if err := s.checkParent(ctx, org, org.ParentID); err != nil {
		return err
	}

	now := s.now()
	org.IsActive = true
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		org.ID, org.Name, org.Slug, string(org.Type), org.ParentID, org.OwnerIdentityID,
		org.IsActive, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	org, err := scanOrganization(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return org, err
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE slug = $1`, slug)
	org, err := scanOrganization(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: slug %s", ErrNotFound, slug)
	}
	return org, err
}

// FetchOrganization lets the service act as the role resolver's organization source.
func (s *PostgresService) FetchOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.GetOrganization(ctx, id)
}

// ListChildren returns the direct children of parentID ordered by name.
func (s *PostgresService) ListChildren(ctx context.Context, parentID string) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE parent_id = $1 ORDER BY name`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child organizations: %w", err)
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate child organizations: %w", err)
	}
	return out, nil
}

// UpdateParent moves an organization below parentID, or makes it a root when nil.
func (s *PostgresService) UpdateParent(ctx context.Context, id string, parentID *string) error {
	org, err := s.GetOrganization(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkParent(ctx, org, parentID); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE organizations SET parent_id = $1, updated_at = $2 WHERE id = $3`,
		parentID, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update organization parent: %w", err)
	}
	return nil
}

// DeactivateOrganization marks an organization inactive. Roles scoped to it
// are kept; an inactive HQ no longer cascades franchise_admin to its stores.
func (s *PostgresService) DeactivateOrganization(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET is_active = FALSE, updated_at = $1 WHERE id = $2`, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresService) checkParent(ctx context.Context, org *Organization, parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, err := s.GetOrganization(ctx, *parentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParent, err)
	}
	if err := ValidateParent(org, parent); err != nil {
		return err
	}
	return DetectCycle(ctx, org.ID, parentID, s.GetOrganization)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var orgType string
	var parentID sql.NullString
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &orgType, &parentID,
		&org.OwnerIdentityID, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}
	org.Type = OrgType(orgType)
	if parentID.Valid {
		p := parentID.String
		org.ParentID = &p
	}
	return org, nil
}

// generateSlug derives a URL-safe slug from name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
