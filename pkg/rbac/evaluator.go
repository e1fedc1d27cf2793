package rbac

import "time"

const (
	ReasonMasterAccess           = "master role has full access"
	ReasonInsufficientPermission = "insufficient permissions"
)

// PermissionEvaluator answers authorization questions against an effective role set.
type PermissionEvaluator struct {
	hierarchy *Hierarchy
}

func NewPermissionEvaluator(h *Hierarchy) *PermissionEvaluator {
	return &PermissionEvaluator{hierarchy: h}
}

// Evaluate decides whether the role set may perform action on resource.
// Denial is a decision, not an error.
func (e *PermissionEvaluator) Evaluate(set *EffectiveRoleSet, resource Resource, action Action, now time.Time) *PermissionDecision {
	decision := &PermissionDecision{
		Roles:       append([]Role(nil), set.Roles...),
		IdentityID:  set.IdentityID,
		Scope:       set.Scope,
		Resource:    resource,
		Action:      action,
		EvaluatedAt: now,
	}

	if set.Has(RoleMaster) {
		decision.Allowed = true
		decision.Reason = ReasonMasterAccess
		return decision
	}

	for _, p := range e.Permissions(set) {
		if p.Matches(resource, action) {
			decision.Allowed = true
			decision.Reason = "granted by " + p.String()
			return decision
		}
	}

	decision.Reason = ReasonInsufficientPermission
	return decision
}

// Permissions returns the union of base permissions of every effective role
// and the custom overrides of in-scope assignments, sorted and deduplicated.
func (e *PermissionEvaluator) Permissions(set *EffectiveRoleSet) []Permission {
	seen := make(map[Permission]bool)
	var out []Permission
	add := func(p Permission) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, r := range set.Roles {
		for _, p := range e.hierarchy.Permissions(r) {
			add(p)
		}
	}
	for _, a := range set.Assignments {
		for _, p := range a.CustomPermissions.Permissions() {
			add(p)
		}
	}
	sortPermissions(out)
	return out
}
