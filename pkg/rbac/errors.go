package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidDocumentRoleCombination is returned when a document type may not grant a role.
	ErrInvalidDocumentRoleCombination = errors.New("invalid document/role combination")

	// ErrTransitionConflict is matched by every *TransitionConflict.
	ErrTransitionConflict = errors.New("role transition conflict")

	// ErrCompensationFailure is matched by every *CompensationFailure.
	ErrCompensationFailure = errors.New("role transition compensation failed")

	ErrNotFound            = errors.New("not found")
	ErrDuplicateAssignment = errors.New("identity already holds role in scope")
	ErrAdminExists         = errors.New("organization already has an active admin")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DocumentRoleError names the rejected document type and role.
type DocumentRoleError struct {
	Type DocumentType
	Role Role
}

func (e *DocumentRoleError) Error() string {
	return fmt.Sprintf("document type %q cannot grant role %q", e.Type, e.Role)
}

func (e *DocumentRoleError) Is(target error) bool {
	return target == ErrInvalidDocumentRoleCombination
}

// ConflictReason is a machine readable code carried by TransitionConflict.
type ConflictReason string

const (
	ReasonHierarchyViolation  ConflictReason = "hierarchy_violation"
	ReasonMasterRestricted    ConflictReason = "master_restricted"
	ReasonDuplicateAssignment ConflictReason = "duplicate_assignment"
	ReasonAdminExists         ConflictReason = "admin_exists"
	ReasonRoleNotHeld         ConflictReason = "role_not_held"
)

// TransitionConflict is returned when a role change violates a hierarchy
// or uniqueness rule. No state has been changed when it is returned.
type TransitionConflict struct {
	Reason  ConflictReason
	Message string
	Err     error
}

func (e *TransitionConflict) Error() string {
	return fmt.Sprintf("role transition conflict (%s): %s", e.Reason, e.Message)
}

func (e *TransitionConflict) Is(target error) bool {
	return target == ErrTransitionConflict
}

func (e *TransitionConflict) Unwrap() error {
	return e.Err
}

// CompensationFailure is returned when a transition failed after revoking the
// old assignment and restoring it failed as well. The identity may be left
// without the role in that scope and an operator has to intervene.
type CompensationFailure struct {
	IdentityID    string
	Scope         Scope
	RevokedRole   Role
	AssignmentErr error
	RestoreErr    error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("assigning new role for identity %s in %s failed (%v) and restoring %s failed (%v): operator intervention required",
		e.IdentityID, e.Scope, e.AssignmentErr, e.RevokedRole, e.RestoreErr)
}

func (e *CompensationFailure) Is(target error) bool {
	return target == ErrCompensationFailure
}

func (e *CompensationFailure) Unwrap() []error {
	return []error{e.AssignmentErr, e.RestoreErr}
}

// RequiresIntervention is always true; callers use it to page an operator.
func (e *CompensationFailure) RequiresIntervention() bool {
	return true
}

func conflict(reason ConflictReason, err error, format string, args ...interface{}) *TransitionConflict {
	return &TransitionConflict{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode maps an engine error to a short machine readable code.
func ErrorCode(err error) string {
	var tc *TransitionConflict
	switch {
	case err == nil:
		return ""
	case errors.As(err, &tc):
		return string(tc.Reason)
	case errors.Is(err, ErrCompensationFailure):
		return "compensation_failure"
	case errors.Is(err, ErrInvalidDocumentRoleCombination):
		return "invalid_document_role"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
