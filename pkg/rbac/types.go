package rbac

import (
	"fmt"
	"sort"
	"time"
)

// Role is a member of the closed role enumeration.
type Role string

const (
	RoleSeeker         Role = "seeker"
	RoleWorker         Role = "worker"
	RoleSupervisor     Role = "supervisor"
	RoleManager        Role = "manager"
	RoleFranchisee     Role = "franchisee"
	RoleOwner          Role = "owner"
	RoleAdmin          Role = "admin"
	RoleFranchisor     Role = "franchisor"
	RoleFranchiseAdmin Role = "franchise_admin"
	RoleMaster         Role = "master"
)

// AllRoles returns every role in ascending priority order of the built-in table.
func AllRoles() []Role {
	return []Role{
		RoleSeeker,
		RoleWorker,
		RoleSupervisor,
		RoleManager,
		RoleFranchisee,
		RoleOwner,
		RoleAdmin,
		RoleFranchisor,
		RoleFranchiseAdmin,
		RoleMaster,
	}
}

// Valid reports whether r is part of the enumeration.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts a string into a Role, rejecting unknown names.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// Resource is the subject of a permission, e.g. "attendance".
type Resource string

// Action is the verb of a permission, e.g. "approve".
type Action string

// Wildcard matches any resource or any action.
const Wildcard = "*"

const (
	ResourceAny          Resource = Wildcard
	ResourceAttendance   Resource = "attendance"
	ResourceSchedule     Resource = "schedule"
	ResourceEmployee     Resource = "employee"
	ResourcePayroll      Resource = "payroll"
	ResourceDocument     Resource = "document"
	ResourceOrganization Resource = "organization"
	ResourceRole         Resource = "role"
	ResourceReport       Resource = "report"
	ResourceFranchise    Resource = "franchise"
	ResourceStore        Resource = "store"
	ResourceProfile      Resource = "profile"
	ResourceJobPosting   Resource = "job_posting"
)

const (
	ActionAny      Action = Wildcard
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionApprove  Action = "approve"
	ActionAssign   Action = "assign"
	ActionRevoke   Action = "revoke"
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
	ActionExport   Action = "export"
	ActionApply    Action = "apply"
)

// Permission is a (resource, action) pair.
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns the permission as "resource:action"
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s", p.Resource, p.Action)
}

// Matches reports whether p grants action on resource. A "*" on either
// field of p matches anything.
func (p Permission) Matches(resource Resource, action Action) bool {
	resourceOK := p.Resource == ResourceAny || p.Resource == resource
	actionOK := p.Action == ActionAny || p.Action == action
	return resourceOK && actionOK
}

// Scope identifies the organizational context of a role. The empty scope
// is the system scope, which only ever holds master (or the seeker default).
type Scope string

// SystemScope is the scope of records without an organization.
const SystemScope Scope = ""

// ScopeOf maps an optional organization id to its scope.
func ScopeOf(organizationID *string) Scope {
	if organizationID == nil {
		return SystemScope
	}
	return Scope(*organizationID)
}

// IsSystem reports whether s is the system scope.
func (s Scope) IsSystem() bool {
	return s == SystemScope
}

// OrganizationID returns the organization id of s, or nil for the system scope.
func (s Scope) OrganizationID() *string {
	if s.IsSystem() {
		return nil
	}
	id := string(s)
	return &id
}

func (s Scope) String() string {
	if s.IsSystem() {
		return "system"
	}
	return "org:" + string(s)
}

// IdentityKind classifies an identity.
type IdentityKind string

const (
	IdentityPersonal       IdentityKind = "personal"
	IdentityBusinessOwner  IdentityKind = "business_owner"
	IdentityCorporation    IdentityKind = "corporation"
	IdentityFranchiseHQ    IdentityKind = "franchise_hq"
	IdentityFranchiseStore IdentityKind = "franchise_store"
)

// Identity is a principal that can hold roles.
type Identity struct {
	ID        string       `json:"id"`
	Kind      IdentityKind `json:"kind"`
	Verified  bool         `json:"verified"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
}

// DocumentType classifies identity documents.
type DocumentType string

const (
	DocumentEmploymentContract    DocumentType = "employment_contract"
	DocumentManagementAppointment DocumentType = "management_appointment"
	DocumentBusinessRegistration  DocumentType = "business_registration"
	DocumentFranchiseAgreement    DocumentType = "franchise_agreement"
)

// Document is a verified paper granting a role within an organization.
// GrantedRole is fixed at creation.
type Document struct {
	ID             string       `json:"id"`
	IdentityID     string       `json:"identity_id"`
	OrganizationID *string      `json:"organization_id,omitempty"`
	Type           DocumentType `json:"document_type"`
	GrantedRole    Role         `json:"granted_role"`
	ValidFrom      *time.Time   `json:"valid_from,omitempty"`
	ValidUntil     *time.Time   `json:"valid_until,omitempty"`
	IsActive       bool         `json:"is_active"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ActiveAt reports whether the document contributes a role at instant now.
func (d Document) ActiveAt(now time.Time) bool {
	return withinWindow(d.IsActive, d.ValidFrom, d.ValidUntil, now)
}

// CustomPermissions are additive per-assignment overrides: resource → action → allow.
// Only true entries grant anything; false entries are ignored.
type CustomPermissions map[Resource]map[Action]bool

// Permissions flattens the granted overrides into a sorted slice.
func (c CustomPermissions) Permissions() []Permission {
	var perms []Permission
	for resource, actions := range c {
		for action, allow := range actions {
			if allow {
				perms = append(perms, Permission{Resource: resource, Action: action})
			}
		}
	}
	sortPermissions(perms)
	return perms
}

// RoleAssignment is an explicit grant of a role, optionally scoped to an organization.
type RoleAssignment struct {
	ID                 string                 `json:"id"`
	IdentityID         string                 `json:"identity_id"`
	OrganizationID     *string                `json:"organization_id,omitempty"`
	Role               Role                   `json:"role"`
	IsActive           bool                   `json:"is_active"`
	IsPrimary          bool                   `json:"is_primary"`
	AssignedBy         string                 `json:"assigned_by"`
	AssignedAt         time.Time              `json:"assigned_at"`
	ValidFrom          *time.Time             `json:"valid_from,omitempty"`
	ValidUntil         *time.Time             `json:"valid_until,omitempty"`
	RevokedAt          *time.Time             `json:"revoked_at,omitempty"`
	RevokedBy          *string                `json:"revoked_by,omitempty"`
	RevokeReason       string                 `json:"revoke_reason,omitempty"`
	CustomPermissions  CustomPermissions      `json:"custom_permissions,omitempty"`
	AccessRestrictions map[string]interface{} `json:"access_restrictions,omitempty"`
}

// Scope returns the scope the assignment applies to.
func (a RoleAssignment) Scope() Scope {
	return ScopeOf(a.OrganizationID)
}

// Held reports whether the assignment is active and not revoked, regardless of its window.
func (a RoleAssignment) Held() bool {
	return a.IsActive && a.RevokedAt == nil
}

// ActiveAt reports whether the assignment contributes its role at instant now.
func (a RoleAssignment) ActiveAt(now time.Time) bool {
	return a.Held() && withinWindow(true, a.ValidFrom, a.ValidUntil, now)
}

// Expired reports whether a held assignment's window closed at or before now.
// Such a row still occupies its uniqueness slot until something revokes it.
func (a RoleAssignment) Expired(now time.Time) bool {
	return a.Held() && a.ValidUntil != nil && !now.Before(*a.ValidUntil)
}

// withinWindow implements the half-open validity window [from, until).
func withinWindow(active bool, from, until *time.Time, now time.Time) bool {
	if !active {
		return false
	}
	if from != nil && now.Before(*from) {
		return false
	}
	if until != nil && !now.Before(*until) {
		return false
	}
	return true
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Add(r Role) {
	s[r] = struct{}{}
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Merge adds every role of other into s.
func (s RoleSet) Merge(other RoleSet) {
	for r := range other {
		s[r] = struct{}{}
	}
}

// Clone returns an independent copy.
func (s RoleSet) Clone() RoleSet {
	c := make(RoleSet, len(s))
	c.Merge(s)
	return c
}

// Slice returns the roles sorted by name.
func (s RoleSet) Slice() []Role {
	roles := make([]Role, 0, len(s))
	for r := range s {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// EffectiveRoleSet is the resolved role set of an identity in one scope.
// It is computed per call and never cached.
type EffectiveRoleSet struct {
	IdentityID  string           `json:"identity_id"`
	Scope       Scope            `json:"scope"`
	Roles       []Role           `json:"roles"`
	Highest     Role             `json:"highest_role"`
	Assignments []RoleAssignment `json:"-"`
	// CascadedFrom lists franchise HQ organizations whose roles were merged in.
	CascadedFrom []string  `json:"cascaded_from,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Has reports whether role is part of the effective set.
func (e *EffectiveRoleSet) Has(role Role) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionDecision is the outcome of one authorization query.
type PermissionDecision struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason"`
	Roles       []Role    `json:"roles"`
	IdentityID  string    `json:"identity_id"`
	Scope       Scope     `json:"scope"`
	Resource    Resource  `json:"resource"`
	Action      Action    `json:"action"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}
