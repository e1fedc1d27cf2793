package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/roster/pkg/orgs"
)

// OrganizationSource looks up organizations for franchise cascading.
type OrganizationSource interface {
	FetchOrganization(ctx context.Context, organizationID string) (*orgs.Organization, error)
}

// DefaultCascadeDepth is how many ancestor levels are searched for a
// franchise HQ whose franchise_admin roles cascade down.
const DefaultCascadeDepth = 1

// RoleResolver picks the effective role set of one scope out of a Derivation.
type RoleResolver struct {
	hierarchy    *Hierarchy
	orgs         OrganizationSource
	cascadeDepth int
}

// NewRoleResolver creates a resolver. source may be nil, in which case no
// franchise cascading happens.
func NewRoleResolver(h *Hierarchy, source OrganizationSource, cascadeDepth int) *RoleResolver {
	if cascadeDepth < 0 {
		cascadeDepth = 0
	}
	return &RoleResolver{hierarchy: h, orgs: source, cascadeDepth: cascadeDepth}
}

// Resolve returns the effective roles of the derivation in scope.
//
// A master role in any scope short-circuits to {master}. The system scope
// only sees the system set. An organization scope sees its own set plus the
// set of an ancestor franchise HQ when that set holds franchise_admin.
// An empty result becomes {seeker}.
func (r *RoleResolver) Resolve(ctx context.Context, d *Derivation, scope Scope, now time.Time) (*EffectiveRoleSet, error) {
	result := &EffectiveRoleSet{
		IdentityID: d.IdentityID,
		Scope:      scope,
		ResolvedAt: now,
	}

	if d.HasAny(RoleMaster) {
		result.Roles = []Role{RoleMaster}
		result.Highest = RoleMaster
		for _, a := range d.Assignments[SystemScope] {
			if a.Role == RoleMaster {
				result.Assignments = append(result.Assignments, a)
			}
		}
		return result, nil
	}

	set := make(RoleSet)
	if roles, ok := d.Roles[scope]; ok {
		set.Merge(roles)
	}
	result.Assignments = append(result.Assignments, d.Assignments[scope]...)

	if !scope.IsSystem() && r.orgs != nil && r.cascadeDepth > 0 && d.HasAny(RoleFranchiseAdmin) {
		cascaded, err := r.cascade(ctx, d, scope)
		if err != nil {
			return nil, err
		}
		for _, hq := range cascaded {
			hqScope := Scope(hq)
			set.Merge(d.Roles[hqScope])
			result.Assignments = append(result.Assignments, d.Assignments[hqScope]...)
			result.CascadedFrom = append(result.CascadedFrom, hq)
		}
	}

	// seeker is only the default; it never sits next to real roles.
	delete(set, RoleSeeker)
	if len(set) == 0 {
		set.Add(RoleSeeker)
	}
	result.Roles = r.hierarchy.Sorted(set)
	result.Highest = r.hierarchy.Highest(set)
	return result, nil
}

// cascade walks up to cascadeDepth ancestors of scope and returns the ids of
// franchise HQs in which the derivation holds franchise_admin.
func (r *RoleResolver) cascade(ctx context.Context, d *Derivation, scope Scope) ([]string, error) {
	org, err := r.orgs.FetchOrganization(ctx, string(scope))
	if errors.Is(err, orgs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch organization %s: %w", scope, err)
	}

	var hqs []string
	visited := map[string]bool{org.ID: true}
	parentID := org.ParentID
	for depth := 0; depth < r.cascadeDepth && parentID != nil; depth++ {
		if visited[*parentID] {
			break
		}
		visited[*parentID] = true

		parent, err := r.orgs.FetchOrganization(ctx, *parentID)
		if errors.Is(err, orgs.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch parent organization %s: %w", *parentID, err)
		}
		if parent.IsActive && parent.Type == orgs.OrgTypeFranchiseHQ {
			if roles, ok := d.Roles[Scope(parent.ID)]; ok && roles.Has(RoleFranchiseAdmin) {
				hqs = append(hqs, parent.ID)
			}
		}
		parentID = parent.ParentID
	}
	return hqs, nil
}
