package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/roster/pkg/audit"
)

// AssignRequest grants one role to one identity.
type AssignRequest struct {
	IdentityID         string                 `json:"identity_id"`
	Role               Role                   `json:"role"`
	OrganizationID     *string                `json:"organization_id,omitempty"`
	RequestedBy        string                 `json:"requested_by"`
	IsPrimary          bool                   `json:"is_primary"`
	ValidFrom          *time.Time             `json:"valid_from,omitempty"`
	ValidUntil         *time.Time             `json:"valid_until,omitempty"`
	CustomPermissions  CustomPermissions      `json:"custom_permissions,omitempty"`
	AccessRestrictions map[string]interface{} `json:"access_restrictions,omitempty"`
}

// TransitionRequest replaces FromRole with ToRole for an identity.
// For master-origin transitions FromRole is looked up in the system scope.
type TransitionRequest struct {
	IdentityID     string  `json:"identity_id"`
	OrganizationID *string `json:"organization_id,omitempty"`
	FromRole       Role    `json:"from_role"`
	ToRole         Role    `json:"to_role"`
	RequestedBy    string  `json:"requested_by"`
	Reason         string  `json:"reason,omitempty"`
}

// TransitionStatus is the final state of a transition attempt.
type TransitionStatus string

const (
	TransitionCompleted          TransitionStatus = "completed"
	TransitionRolledBack         TransitionStatus = "rolled_back"
	TransitionCompensationFailed TransitionStatus = "compensation_failed"
	TransitionRejected           TransitionStatus = "rejected"
)

// TransitionResult describes what a transition changed.
type TransitionResult struct {
	Status   TransitionStatus `json:"status"`
	Revoked  *RoleAssignment  `json:"revoked,omitempty"`
	Assigned *RoleAssignment  `json:"assigned,omitempty"`
	Restored *RoleAssignment  `json:"restored,omitempty"`
}

// RevokeRequest revokes one assignment.
type RevokeRequest struct {
	AssignmentID string `json:"assignment_id"`
	RequestedBy  string `json:"requested_by"`
	Reason       string `json:"reason,omitempty"`
}

// BulkAssignItem is one row of a bulk assignment.
type BulkAssignItem struct {
	IdentityID     string  `json:"identity_id"`
	Role           Role    `json:"role"`
	OrganizationID *string `json:"organization_id,omitempty"`
	IsPrimary      bool    `json:"is_primary"`
}

// BulkAssignRequest grants roles to many identities on behalf of one requester.
type BulkAssignRequest struct {
	RequestedBy string           `json:"requested_by"`
	Items       []BulkAssignItem `json:"items"`
}

// BulkItemResult is the outcome of one bulk item.
type BulkItemResult struct {
	Index          int     `json:"index"`
	IdentityID     string  `json:"identity_id"`
	Role           Role    `json:"role"`
	OrganizationID *string `json:"organization_id,omitempty"`
	Success        bool    `json:"success"`
	AssignmentID   string  `json:"assignment_id,omitempty"`
	Code           string  `json:"code,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// BulkAssignResult summarizes a bulk assignment. Results are in input order.
type BulkAssignResult struct {
	Total      int              `json:"total"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []BulkItemResult `json:"results"`
}

// AssignRole grants a role after checking the requester outranks it and the
// identity does not already hold it. Admin grants also require the
// organization to have no active admin.
func (e *Engine) AssignRole(ctx context.Context, req AssignRequest) (*RoleAssignment, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.AssignRole", trace.WithAttributes(
		attribute.String("identity.id", req.IdentityID),
		attribute.String("role", string(req.Role)),
	))
	defer span.End()

	assignment, err := e.assign(ctx, req)
	if err != nil {
		e.metrics.RecordAssignment("assign", ErrorCode(err))
		return nil, spanError(span, err)
	}
	e.metrics.RecordAssignment("assign", "success")
	return assignment, nil
}

func (e *Engine) assign(ctx context.Context, req AssignRequest) (*RoleAssignment, error) {
	if req.IdentityID == "" {
		return nil, &ValidationError{Field: "identity_id", Message: "is required"}
	}
	if req.RequestedBy == "" {
		return nil, &ValidationError{Field: "requested_by", Message: "is required"}
	}
	if err := validateTargetRole(req.Role, req.OrganizationID, "role"); err != nil {
		return nil, err
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return nil, &ValidationError{Field: "valid_until", Message: "must be after valid_from"}
	}

	scope := ScopeOf(req.OrganizationID)
	if err := e.authorizeRequester(ctx, req.RequestedBy, req.Role, scope); err != nil {
		return nil, err
	}

	keys := []string{AssignmentLockKey(req.IdentityID, scope, req.Role)}
	if req.Role == RoleAdmin {
		keys = append(keys, AdminLockKey(string(scope)))
	}
	unlock, err := e.lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := e.now()
	if err := e.clearExpired(ctx, AssignmentSlot{IdentityID: req.IdentityID, Scope: scope, Role: req.Role}, now); err != nil {
		return nil, err
	}
	current, err := e.store.FetchActiveRoleAssignments(ctx, req.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch role assignments of %s: %w", req.IdentityID, err)
	}
	if findOccupying(current, scope, req.Role, now) != nil {
		return nil, conflict(ReasonDuplicateAssignment, ErrDuplicateAssignment,
			"identity %s already holds %s in %s", req.IdentityID, req.Role, scope)
	}
	if req.Role == RoleAdmin {
		if err := e.checkAdminSlot(ctx, string(scope), now); err != nil {
			return nil, err
		}
	}

	assignment := RoleAssignment{
		ID:                 uuid.NewString(),
		IdentityID:         req.IdentityID,
		OrganizationID:     scope.OrganizationID(),
		Role:               req.Role,
		IsActive:           true,
		IsPrimary:          req.IsPrimary,
		AssignedBy:         req.RequestedBy,
		AssignedAt:         now,
		ValidFrom:          req.ValidFrom,
		ValidUntil:         req.ValidUntil,
		CustomPermissions:  req.CustomPermissions,
		AccessRestrictions: req.AccessRestrictions,
	}
	saved, err := e.store.PersistRoleAssignment(ctx, assignment)
	if err != nil {
		return nil, storeConflict(err, assignment)
	}

	event := e.assignmentEvent(ctx, audit.EventTypeAuthzPermissionGrant, audit.EventStatusSuccess, req.RequestedBy, *saved)
	event.Message = fmt.Sprintf("%s granted %s in %s to %s", req.RequestedBy, saved.Role, scope, saved.IdentityID)
	e.emit(ctx, event)
	return saved, nil
}

// RevokeRole revokes an active assignment. The requester must outrank its role.
func (e *Engine) RevokeRole(ctx context.Context, req RevokeRequest) (*RoleAssignment, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.RevokeRole", trace.WithAttributes(
		attribute.String("assignment.id", req.AssignmentID),
	))
	defer span.End()

	revoked, err := e.revoke(ctx, req)
	if err != nil {
		e.metrics.RecordAssignment("revoke", ErrorCode(err))
		return nil, spanError(span, err)
	}
	e.metrics.RecordAssignment("revoke", "success")
	return revoked, nil
}

func (e *Engine) revoke(ctx context.Context, req RevokeRequest) (*RoleAssignment, error) {
	if req.AssignmentID == "" {
		return nil, &ValidationError{Field: "assignment_id", Message: "is required"}
	}
	if req.RequestedBy == "" {
		return nil, &ValidationError{Field: "requested_by", Message: "is required"}
	}

	existing, err := e.store.FetchRoleAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignment %s: %w", req.AssignmentID, err)
	}
	scope := existing.Scope()
	if err := e.authorizeRequester(ctx, req.RequestedBy, existing.Role, scope); err != nil {
		return nil, err
	}

	unlock, err := e.lock(ctx, AssignmentLockKey(existing.IdentityID, scope, existing.Role))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent transition may have revoked it.
	existing, err = e.store.FetchRoleAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignment %s: %w", req.AssignmentID, err)
	}
	if !existing.Held() {
		return nil, conflict(ReasonRoleNotHeld, nil, "assignment %s is already revoked", req.AssignmentID)
	}

	reason := req.Reason
	if reason == "" {
		reason = "revoked by " + req.RequestedBy
	}
	if err := e.store.RevokeRoleAssignment(ctx, existing.ID, req.RequestedBy, reason); err != nil {
		return nil, fmt.Errorf("failed to revoke assignment %s: %w", existing.ID, err)
	}
	revoked := markRevoked(*existing, req.RequestedBy, reason, e.now())

	event := e.assignmentEvent(ctx, audit.EventTypeAuthzPermissionRevoke, audit.EventStatusSuccess, req.RequestedBy, revoked)
	event.Message = fmt.Sprintf("%s revoked %s in %s from %s", req.RequestedBy, revoked.Role, scope, revoked.IdentityID)
	e.emit(ctx, event)
	return &revoked, nil
}

// TransitionRole revokes FromRole and assigns ToRole. If the assignment
// fails the old role is restored as a new assignment; if that fails too a
// *CompensationFailure is returned together with the partial result.
func (e *Engine) TransitionRole(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.TransitionRole", trace.WithAttributes(
		attribute.String("identity.id", req.IdentityID),
		attribute.String("role.from", string(req.FromRole)),
		attribute.String("role.to", string(req.ToRole)),
	))
	defer span.End()

	result, err := e.transition(ctx, req)
	status := TransitionRejected
	if result != nil {
		status = result.Status
	}
	e.metrics.RecordTransition(string(status))
	span.SetAttributes(attribute.String("transition.status", string(status)))
	if err != nil {
		return result, spanError(span, err)
	}
	return result, nil
}

func (e *Engine) transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if req.IdentityID == "" {
		return nil, &ValidationError{Field: "identity_id", Message: "is required"}
	}
	if req.RequestedBy == "" {
		return nil, &ValidationError{Field: "requested_by", Message: "is required"}
	}
	if !req.FromRole.Valid() || req.FromRole == RoleSeeker {
		return nil, &ValidationError{Field: "from_role", Message: fmt.Sprintf("%q cannot be transitioned from", req.FromRole)}
	}
	if req.FromRole == req.ToRole {
		return nil, &ValidationError{Field: "to_role", Message: "must differ from from_role"}
	}
	if req.FromRole == RoleMaster && req.ToRole != RoleAdmin {
		return nil, conflict(ReasonMasterRestricted, nil, "master can only transition to admin, not %s", req.ToRole)
	}
	toOrg := req.OrganizationID
	if req.ToRole.isSystemRole() {
		toOrg = nil
	}
	if err := validateTargetRole(req.ToRole, toOrg, "to_role"); err != nil {
		return nil, err
	}

	fromScope := scopeFor(req.FromRole, req.OrganizationID)
	toScope := scopeFor(req.ToRole, req.OrganizationID)
	if !req.FromRole.isSystemRole() && fromScope.IsSystem() {
		return nil, &ValidationError{Field: "organization_id", Message: fmt.Sprintf("is required for role %s", req.FromRole)}
	}

	if err := e.authorizeRequester(ctx, req.RequestedBy, req.ToRole, toScope); err != nil {
		return nil, err
	}
	if err := e.authorizeRequester(ctx, req.RequestedBy, req.FromRole, fromScope); err != nil {
		return nil, err
	}

	keys := []string{
		AssignmentLockKey(req.IdentityID, fromScope, req.FromRole),
		AssignmentLockKey(req.IdentityID, toScope, req.ToRole),
	}
	if req.ToRole == RoleAdmin {
		keys = append(keys, AdminLockKey(string(toScope)))
	}
	unlock, err := e.lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := e.now()
	current, err := e.store.FetchActiveRoleAssignments(ctx, req.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch role assignments of %s: %w", req.IdentityID, err)
	}
	old := findActive(current, fromScope, req.FromRole, now)
	if old == nil {
		return nil, conflict(ReasonRoleNotHeld, nil, "identity %s holds no active %s assignment in %s", req.IdentityID, req.FromRole, fromScope)
	}
	if findOccupying(current, toScope, req.ToRole, now) != nil {
		return nil, conflict(ReasonDuplicateAssignment, ErrDuplicateAssignment,
			"identity %s already holds %s in %s", req.IdentityID, req.ToRole, toScope)
	}
	if err := e.clearExpired(ctx, AssignmentSlot{IdentityID: req.IdentityID, Scope: toScope, Role: req.ToRole}, now); err != nil {
		return nil, err
	}
	if req.ToRole == RoleAdmin {
		if err := e.checkAdminSlot(ctx, string(toScope), now); err != nil {
			return nil, err
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("transition %s -> %s", req.FromRole, req.ToRole)
	}
	if err := e.store.RevokeRoleAssignment(ctx, old.ID, req.RequestedBy, reason); err != nil {
		return nil, fmt.Errorf("failed to revoke %s assignment %s: %w", req.FromRole, old.ID, err)
	}

	revoked := markRevoked(*old, req.RequestedBy, reason, now)
	result := &TransitionResult{Revoked: &revoked}
	log := e.log(ctx).WithFields(map[string]interface{}{
		"identity_id":  req.IdentityID,
		"from_role":    string(req.FromRole),
		"to_role":      string(req.ToRole),
		"requested_by": req.RequestedBy,
		"scope":        toScope.String(),
	})

	next := RoleAssignment{
		ID:             uuid.NewString(),
		IdentityID:     req.IdentityID,
		OrganizationID: toScope.OrganizationID(),
		Role:           req.ToRole,
		IsActive:       true,
		IsPrimary:      old.IsPrimary,
		AssignedBy:     req.RequestedBy,
		AssignedAt:     now,
	}
	assigned, assignErr := e.store.PersistRoleAssignment(ctx, next)
	if assignErr == nil {
		result.Status = TransitionCompleted
		result.Assigned = assigned

		event := e.assignmentEvent(ctx, audit.EventTypeAuthzRoleChange, audit.EventStatusSuccess, req.RequestedBy, *assigned)
		event.Message = fmt.Sprintf("%s moved %s from %s to %s", req.RequestedBy, req.IdentityID, req.FromRole, req.ToRole)
		event.Changes = &audit.ChangeDetails{
			Before: map[string]interface{}{"role": old.Role, "organization_id": string(fromScope), "assignment_id": old.ID},
			After:  map[string]interface{}{"role": assigned.Role, "organization_id": string(toScope), "assignment_id": assigned.ID},
		}
		e.emit(ctx, event)
		log.Info("role transition completed")
		return result, nil
	}

	assignErr = storeConflict(assignErr, next)
	log.WithError(assignErr).Warn("role transition failed after revoke, restoring previous assignment")

	restore := *old
	restore.ID = uuid.NewString()
	restore.IsActive = true
	restore.AssignedBy = req.RequestedBy
	restore.AssignedAt = now
	restore.RevokedAt = nil
	restore.RevokedBy = nil
	restore.RevokeReason = ""

	restored, restoreErr := e.store.PersistRoleAssignment(ctx, restore)
	if restoreErr != nil {
		result.Status = TransitionCompensationFailed
		failure := &CompensationFailure{
			IdentityID:    req.IdentityID,
			Scope:         fromScope,
			RevokedRole:   req.FromRole,
			AssignmentErr: assignErr,
			RestoreErr:    restoreErr,
		}
		e.metrics.RecordCompensationFailure()
		log.WithError(failure).Error("role transition compensation failed, operator intervention required")

		event := e.assignmentEvent(ctx, audit.EventTypeAuthzCompensationFailure, audit.EventStatusFailure, req.RequestedBy, revoked)
		event.Message = fmt.Sprintf("identity %s lost %s in %s and could not be restored", req.IdentityID, req.FromRole, fromScope)
		event.ErrorMessage = failure.Error()
		event.Metadata["requires_intervention"] = true
		e.emit(ctx, event)
		return result, failure
	}

	result.Status = TransitionRolledBack
	result.Restored = restored
	return result, fmt.Errorf("failed to assign %s, previous %s assignment restored: %w", req.ToRole, req.FromRole, assignErr)
}

// BulkAssignRoles assigns every item independently. One failing item never
// fails the batch; the returned error is reserved for an invalid request.
func (e *Engine) BulkAssignRoles(ctx context.Context, req BulkAssignRequest) (*BulkAssignResult, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.BulkAssignRoles", trace.WithAttributes(
		attribute.Int("bulk.items", len(req.Items)),
	))
	defer span.End()

	if req.RequestedBy == "" {
		return nil, spanError(span, &ValidationError{Field: "requested_by", Message: "is required"})
	}
	if len(req.Items) == 0 {
		return nil, spanError(span, &ValidationError{Field: "items", Message: "must not be empty"})
	}

	results := make([]BulkItemResult, len(req.Items))
	var g errgroup.Group
	g.SetLimit(e.bulkWorkers)
	for i, item := range req.Items {
		i, item := i, item
		g.Go(func() error {
			results[i] = e.bulkItem(ctx, i, req.RequestedBy, item)
			return nil
		})
	}
	_ = g.Wait()

	summary := &BulkAssignResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			summary.Successful++
			e.metrics.RecordBulkItem("success")
		} else {
			summary.Failed++
			e.metrics.RecordBulkItem(r.Code)
		}
	}
	span.SetAttributes(attribute.Int("bulk.failed", summary.Failed))
	e.log(ctx).WithFields(map[string]interface{}{
		"requested_by": req.RequestedBy,
		"total":        summary.Total,
		"successful":   summary.Successful,
		"failed":       summary.Failed,
	}).Info("bulk role assignment finished")
	return summary, nil
}

func (e *Engine) bulkItem(ctx context.Context, index int, requestedBy string, item BulkAssignItem) BulkItemResult {
	result := BulkItemResult{
		Index:          index,
		IdentityID:     item.IdentityID,
		Role:           item.Role,
		OrganizationID: item.OrganizationID,
	}
	assignment, err := e.assign(ctx, AssignRequest{
		IdentityID:     item.IdentityID,
		Role:           item.Role,
		OrganizationID: item.OrganizationID,
		RequestedBy:    requestedBy,
		IsPrimary:      item.IsPrimary,
	})
	if err != nil {
		result.Code = ErrorCode(err)
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.AssignmentID = assignment.ID
	return result
}

// authorizeRequester checks that requester may manage target in scope:
// master may manage anything, everyone else needs a strictly higher role.
func (e *Engine) authorizeRequester(ctx context.Context, requesterID string, target Role, scope Scope) error {
	set, err := e.resolve(ctx, requesterID, scope)
	if err != nil {
		return fmt.Errorf("failed to resolve requester %s: %w", requesterID, err)
	}
	if set.Highest == RoleMaster || e.hierarchy.Outranks(set.Highest, target) {
		return nil
	}
	return conflict(ReasonHierarchyViolation, nil, "%s (%s in %s) cannot manage %s", requesterID, set.Highest, scope, target)
}

// checkAdminSlot fails when the organization has an admin that has not
// expired. An expired admin still holding the slot is revoked first.
func (e *Engine) checkAdminSlot(ctx context.Context, organizationID string, now time.Time) error {
	if err := e.clearExpired(ctx, AssignmentSlot{Scope: Scope(organizationID), Role: RoleAdmin}, now); err != nil {
		return err
	}
	admin, err := e.store.FetchActiveAdmin(ctx, organizationID, now)
	if err != nil {
		return fmt.Errorf("failed to fetch admin of %s: %w", organizationID, err)
	}
	if admin != nil {
		return conflict(ReasonAdminExists, ErrAdminExists,
			"organization %s already has admin %s", organizationID, admin.IdentityID)
	}
	return nil
}

func (e *Engine) lock(ctx context.Context, keys ...string) (func(), error) {
	start := time.Now()
	unlock, err := e.locker.Lock(ctx, keys...)
	e.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to lock role keys: %w", err)
	}
	return unlock, nil
}

func (e *Engine) assignmentEvent(ctx context.Context, eventType audit.EventType, status audit.EventStatus, actorID string, a RoleAssignment) *audit.AuditEvent {
	event := audit.NewEvent(ctx, eventType, status)
	event.ActorID = actorID
	event.SubjectID = a.IdentityID
	if a.OrganizationID != nil {
		event.OrganizationID = *a.OrganizationID
	}
	event.ResourceType = audit.ResourceTypeRoleAssignment
	event.ResourceID = a.ID
	event.Metadata["role"] = string(a.Role)
	return event
}

// validateTargetRole checks a role can be granted explicitly in the scope given by organizationID.
func validateTargetRole(role Role, organizationID *string, field string) error {
	if !role.Valid() {
		return &ValidationError{Field: field, Message: fmt.Sprintf("unknown role %q", role)}
	}
	if role == RoleSeeker {
		return &ValidationError{Field: field, Message: "seeker is implicit and cannot be assigned"}
	}
	if organizationID != nil && *organizationID == "" {
		return &ValidationError{Field: "organization_id", Message: "must not be empty when set"}
	}
	if role.isSystemRole() {
		if organizationID != nil {
			return &ValidationError{Field: "organization_id", Message: "master is system-wide and takes no organization"}
		}
		return nil
	}
	if organizationID == nil {
		return &ValidationError{Field: "organization_id", Message: fmt.Sprintf("is required for role %s", role)}
	}
	return nil
}

func (r Role) isSystemRole() bool {
	return r == RoleMaster
}

// scopeFor returns the scope a role lives in: master is always system-wide.
func scopeFor(role Role, organizationID *string) Scope {
	if role.isSystemRole() {
		return SystemScope
	}
	return ScopeOf(organizationID)
}

// clearExpired revokes expired rows in slot so that a new assignment can take
// their place in the uniqueness indexes. Callers hold the slot's lock.
func (e *Engine) clearExpired(ctx context.Context, slot AssignmentSlot, now time.Time) error {
	n, err := e.store.ExpireAssignments(ctx, slot, now)
	if err != nil {
		return fmt.Errorf("failed to expire stale %s assignments in %s: %w", slot.Role, slot.Scope, err)
	}
	if n > 0 {
		e.log(ctx).WithFields(map[string]interface{}{
			"identity_id": slot.IdentityID,
			"role":        string(slot.Role),
			"scope":       slot.Scope.String(),
			"expired":     n,
		}).Info("revoked expired assignments before reassigning")
	}
	return nil
}

// findOccupying returns the assignment holding role in scope at now. Expired
// rows do not count; rows whose window has not opened yet do.
func findOccupying(assignments []RoleAssignment, scope Scope, role Role, now time.Time) *RoleAssignment {
	for i := range assignments {
		a := assignments[i]
		if a.Held() && !a.Expired(now) && a.Role == role && a.Scope() == scope {
			return &a
		}
	}
	return nil
}

// findActive returns the assignment contributing role in scope at now.
func findActive(assignments []RoleAssignment, scope Scope, role Role, now time.Time) *RoleAssignment {
	for i := range assignments {
		a := assignments[i]
		if a.ActiveAt(now) && a.Role == role && a.Scope() == scope {
			return &a
		}
	}
	return nil
}

func markRevoked(a RoleAssignment, revokedBy, reason string, at time.Time) RoleAssignment {
	a.IsActive = false
	a.RevokedAt = &at
	a.RevokedBy = &revokedBy
	a.RevokeReason = reason
	return a
}

// storeConflict turns uniqueness violations reported by the store into conflicts.
func storeConflict(err error, a RoleAssignment) error {
	switch {
	case errors.Is(err, ErrAdminExists):
		return conflict(ReasonAdminExists, err, "organization %s already has an active admin", a.Scope())
	case errors.Is(err, ErrDuplicateAssignment):
		return conflict(ReasonDuplicateAssignment, err, "identity %s already holds %s in %s", a.IdentityID, a.Role, a.Scope())
	default:
		return fmt.Errorf("failed to persist %s assignment: %w", a.Role, err)
	}
}
