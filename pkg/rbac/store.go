package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/roster/pkg/observability"
)

// SQLStore implements Store and ExpiryStore on database/sql. Queries use
// $n placeholders and run on PostgreSQL (lib/pq) or SQLite.
type SQLStore struct {
	db         *sql.DB
	classifier *DocumentClassifier
	metrics    *observability.Metrics
	now        func() time.Time
}

// SQLStoreOption configures a SQLStore.
type SQLStoreOption func(*SQLStore)

func WithStoreMetrics(m *observability.Metrics) SQLStoreOption {
	return func(s *SQLStore) { s.metrics = m }
}

func WithStoreClock(now func() time.Time) SQLStoreOption {
	return func(s *SQLStore) { s.now = now }
}

// NewSQLStore creates a store over db.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{
		db:         db,
		classifier: NewDocumentClassifier(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const identityColumns = `id, kind, verified, is_active, created_at`

const documentColumns = `id, identity_id, organization_id, document_type, granted_role, valid_from, valid_until, is_active, created_at`

const assignmentColumns = `id, identity_id, organization_id, role, is_active, is_primary, assigned_by, assigned_at,
	valid_from, valid_until, revoked_at, revoked_by, revoke_reason, custom_permissions, access_restrictions`

// CreateIdentity inserts an identity.
func (s *SQLStore) CreateIdentity(ctx context.Context, identity *Identity) (err error) {
	defer s.observe("create_identity", time.Now(), &err)

	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, string(identity.Kind), identity.Verified, identity.IsActive, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// SetIdentityActive activates or deactivates an identity.
func (s *SQLStore) SetIdentityActive(ctx context.Context, identityID string, active bool) (err error) {
	defer s.observe("set_identity_active", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, `UPDATE identities SET is_active = $1 WHERE id = $2`, active, identityID)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return expectOneRow(res, "identity", identityID)
}

func (s *SQLStore) FetchIdentity(ctx context.Context, identityID string) (_ *Identity, err error) {
	defer s.observe("fetch_identity", time.Now(), &err)

	var identity Identity
	var kind string
	err = s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, identityID,
	).Scan(&identity.ID, &kind, &identity.Verified, &identity.IsActive, &identity.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: identity %s", ErrNotFound, identityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	identity.Kind = IdentityKind(kind)
	return &identity, nil
}

// CreateDocument inserts a document after classifier and shape checks.
func (s *SQLStore) CreateDocument(ctx context.Context, doc *Document) (err error) {
	defer s.observe("create_document", time.Now(), &err)

	if err := s.classifier.ValidateDocument(*doc); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.IdentityID, doc.OrganizationID, string(doc.Type), string(doc.GrantedRole),
		doc.ValidFrom, doc.ValidUntil, doc.IsActive, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// DeactivateDocument marks a document inactive. Its granted role is never changed.
func (s *SQLStore) DeactivateDocument(ctx context.Context, documentID string) (err error) {
	defer s.observe("deactivate_document", time.Now(), &err)

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_active = FALSE WHERE id = $1 AND is_active = TRUE`, documentID)
	if err != nil {
		return fmt.Errorf("failed to deactivate document: %w", err)
	}
	return expectOneRow(res, "active document", documentID)
}

func (s *SQLStore) FetchActiveDocuments(ctx context.Context, identityID string) (_ []Document, err error) {
	defer s.observe("fetch_documents", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE identity_id = $1 AND is_active = TRUE ORDER BY id`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var orgID sql.NullString
		var docType, role string
		var validFrom, validUntil sql.NullTime
		if err := rows.Scan(&doc.ID, &doc.IdentityID, &orgID, &docType, &role,
			&validFrom, &validUntil, &doc.IsActive, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.OrganizationID = nullString(orgID)
		doc.Type = DocumentType(docType)
		doc.GrantedRole = Role(role)
		doc.ValidFrom = nullTime(validFrom)
		doc.ValidUntil = nullTime(validUntil)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *SQLStore) FetchActiveRoleAssignments(ctx context.Context, identityID string) (_ []RoleAssignment, err error) {
	defer s.observe("fetch_assignments", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments
		WHERE identity_id = $1 AND is_active = TRUE AND revoked_at IS NULL
		ORDER BY assigned_at, id`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role assignments: %w", err)
	}
	return out, nil
}

func (s *SQLStore) FetchRoleAssignment(ctx context.Context, assignmentID string) (_ *RoleAssignment, err error) {
	defer s.observe("fetch_assignment", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE id = $1`, assignmentID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	return a, err
}

func (s *SQLStore) FetchActiveAdmin(ctx context.Context, organizationID string, now time.Time) (_ *RoleAssignment, err error) {
	defer s.observe("fetch_admin", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments
		WHERE organization_id = $1 AND role = 'admin' AND is_active = TRUE AND revoked_at IS NULL
		AND (valid_until IS NULL OR valid_until > $2)
		LIMIT 1`,
		organizationID, now,
	)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *SQLStore) PersistRoleAssignment(ctx context.Context, a RoleAssignment) (_ *RoleAssignment, err error) {
	defer s.observe("persist_assignment", time.Now(), &err)

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = s.now()
	}
	custom, err := marshalJSON(a.CustomPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custom permissions: %w", err)
	}
	restrictions, err := marshalJSON(a.AccessRestrictions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal access restrictions: %w", err)
	}

	var revokeReason *string
	if a.RevokeReason != "" {
		revokeReason = &a.RevokeReason
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO role_assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.IdentityID, a.OrganizationID, string(a.Role), a.IsActive, a.IsPrimary, a.AssignedBy, a.AssignedAt,
		a.ValidFrom, a.ValidUntil, a.RevokedAt, a.RevokedBy, revokeReason, custom, restrictions,
	)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	return &a, nil
}

func (s *SQLStore) RevokeRoleAssignment(ctx context.Context, assignmentID, revokedBy, reason string) (err error) {
	defer s.observe("revoke_assignment", time.Now(), &err)

	res, err := s.db.ExecContext(ctx,
		`UPDATE role_assignments
		SET is_active = FALSE, revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE id = $4 AND is_active = TRUE AND revoked_at IS NULL`,
		s.now(), revokedBy, reason, assignmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke role assignment: %w", err)
	}
	return expectOneRow(res, "active assignment", assignmentID)
}

func (s *SQLStore) ExpireAssignments(ctx context.Context, slot AssignmentSlot, now time.Time) (n int64, err error) {
	defer s.observe("expire_assignments", time.Now(), &err)

	query := `UPDATE role_assignments
		SET is_active = FALSE, revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE is_active = TRUE AND revoked_at IS NULL AND valid_until IS NOT NULL AND valid_until <= $1
		AND role = $4`
	args := []interface{}{now, SystemActor, ExpiredReason, string(slot.Role)}
	if slot.Scope.IsSystem() {
		query += ` AND organization_id IS NULL`
	} else {
		args = append(args, string(slot.Scope))
		query += fmt.Sprintf(` AND organization_id = $%d`, len(args))
	}
	if slot.IdentityID != "" {
		args = append(args, slot.IdentityID)
		query += fmt.Sprintf(` AND identity_id = $%d`, len(args))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire %s assignments in %s: %w", slot.Role, slot.Scope, err)
	}
	return res.RowsAffected()
}

// DeactivateExpired implements ExpiryStore. Expired assignments are revoked
// by SystemActor so that they leave the uniqueness indexes.
func (s *SQLStore) DeactivateExpired(ctx context.Context, now time.Time) (report ExpiryReport, err error) {
	defer s.observe("deactivate_expired", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET is_active = FALSE
		WHERE is_active = TRUE AND valid_until IS NOT NULL AND valid_until <= $1`, now)
	if err != nil {
		return report, fmt.Errorf("failed to expire documents: %w", err)
	}
	if report.Documents, err = res.RowsAffected(); err != nil {
		return report, fmt.Errorf("failed to count expired documents: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE role_assignments
		SET is_active = FALSE, revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE is_active = TRUE AND revoked_at IS NULL AND valid_until IS NOT NULL AND valid_until <= $4`,
		now, SystemActor, ExpiredReason, now)
	if err != nil {
		return report, fmt.Errorf("failed to expire role assignments: %w", err)
	}
	if report.Assignments, err = res.RowsAffected(); err != nil {
		return report, fmt.Errorf("failed to count expired role assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return report, nil
}

func (s *SQLStore) observe(operation string, start time.Time, err *error) {
	s.metrics.ObserveStorage(operation, start, *err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row rowScanner) (*RoleAssignment, error) {
	var a RoleAssignment
	var orgID, revokedBy, revokeReason, custom, restrictions sql.NullString
	var role string
	var validFrom, validUntil, revokedAt sql.NullTime

	err := row.Scan(&a.ID, &a.IdentityID, &orgID, &role, &a.IsActive, &a.IsPrimary, &a.AssignedBy, &a.AssignedAt,
		&validFrom, &validUntil, &revokedAt, &revokedBy, &revokeReason, &custom, &restrictions)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role assignment: %w", err)
	}

	a.OrganizationID = nullString(orgID)
	a.Role = Role(role)
	a.ValidFrom = nullTime(validFrom)
	a.ValidUntil = nullTime(validUntil)
	a.RevokedAt = nullTime(revokedAt)
	a.RevokedBy = nullString(revokedBy)
	a.RevokeReason = revokeReason.String

	if custom.Valid && custom.String != "" {
		if err := json.Unmarshal([]byte(custom.String), &a.CustomPermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom permissions: %w", err)
		}
	}
	if restrictions.Valid && restrictions.String != "" {
		if err := json.Unmarshal([]byte(restrictions.String), &a.AccessRestrictions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal access restrictions: %w", err)
		}
	}
	return &a, nil
}

// uniqueViolation maps PostgreSQL unique violations on the assignment
// indexes to ErrAdminExists and ErrDuplicateAssignment.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		if pqErr.Constraint == activeAdminIndex {
			return fmt.Errorf("%w: %s", ErrAdminExists, pqErr.Detail)
		}
		return fmt.Errorf("%w: %s", ErrDuplicateAssignment, pqErr.Detail)
	}
	return fmt.Errorf("failed to insert role assignment: %w", err)
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}

func marshalJSON(v interface{}) (*string, error) {
	switch m := v.(type) {
	case CustomPermissions:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(m) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
