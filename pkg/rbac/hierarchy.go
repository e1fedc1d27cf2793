package rbac

import (
	"fmt"
	"sort"
)

// RoleDefinition describes one role of the hierarchy table.
type RoleDefinition struct {
	Role        Role         `json:"role" yaml:"role"`
	DisplayName string       `json:"display_name" yaml:"display_name"`
	Description string       `json:"description" yaml:"description"`
	Priority    int          `json:"priority" yaml:"priority"`
	Inherits    []Role       `json:"inherits,omitempty" yaml:"inherits,omitempty"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// Hierarchy is the immutable role table: priorities, inheritance edges and
// base permissions. Build one with NewHierarchy or DefaultHierarchy and share
// it freely between goroutines.
type Hierarchy struct {
	defs  map[Role]RoleDefinition
	order []Role // ascending priority
}

// NewHierarchy validates defs and returns the table. Every role of the
// enumeration must be defined exactly once, priorities must be distinct,
// and inheritance must reference known roles without cycles.
func NewHierarchy(defs []RoleDefinition) (*Hierarchy, error) {
	h := &Hierarchy{defs: make(map[Role]RoleDefinition, len(defs))}
	priorities := make(map[int]Role, len(defs))

	for _, def := range defs {
		if !def.Role.Valid() {
			return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", def.Role)}
		}
		if _, dup := h.defs[def.Role]; dup {
			return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("role %q defined twice", def.Role)}
		}
		if other, tie := priorities[def.Priority]; tie {
			return nil, &ValidationError{Field: "priority", Message: fmt.Sprintf("roles %q and %q share priority %d", other, def.Role, def.Priority)}
		}
		for _, p := range def.Permissions {
			if p.Resource == "" || p.Action == "" {
				return nil, &ValidationError{Field: "permissions", Message: fmt.Sprintf("role %q has an incomplete permission %q", def.Role, p)}
			}
		}
		priorities[def.Priority] = def.Role
		h.defs[def.Role] = cloneDefinition(def)
	}

	for _, r := range AllRoles() {
		if _, ok := h.defs[r]; !ok {
			return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("role %q is not defined", r)}
		}
	}

	for _, def := range h.defs {
		for _, parent := range def.Inherits {
			if _, ok := h.defs[parent]; !ok {
				return nil, &ValidationError{Field: "inherits", Message: fmt.Sprintf("role %q inherits unknown role %q", def.Role, parent)}
			}
		}
	}
	if err := h.checkAcyclic(); err != nil {
		return nil, err
	}

	for r := range h.defs {
		h.order = append(h.order, r)
	}
	sort.Slice(h.order, func(i, j int) bool {
		return h.defs[h.order[i]].Priority < h.defs[h.order[j]].Priority
	})
	return h, nil
}

// DefaultHierarchy returns the built-in table.
func DefaultHierarchy() *Hierarchy {
	h, err := NewHierarchy(BuiltInRoles())
	if err != nil {
		panic(fmt.Sprintf("built-in role table is invalid: %v", err))
	}
	return h
}

func (h *Hierarchy) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Role]int, len(h.defs))

	var visit func(r Role, path []Role) error
	visit = func(r Role, path []Role) error {
		switch state[r] {
		case visiting:
			return &ValidationError{Field: "inherits", Message: fmt.Sprintf("inheritance cycle through %v", append(path, r))}
		case done:
			return nil
		}
		state[r] = visiting
		for _, parent := range h.defs[r].Inherits {
			if err := visit(parent, append(path, r)); err != nil {
				return err
			}
		}
		state[r] = done
		return nil
	}

	for _, r := range AllRoles() {
		if err := visit(r, nil); err != nil {
			return err
		}
	}
	return nil
}

// Roles returns all roles in ascending priority.
func (h *Hierarchy) Roles() []Role {
	return append([]Role(nil), h.order...)
}

// Definition returns a copy of the definition of r.
func (h *Hierarchy) Definition(r Role) (RoleDefinition, bool) {
	def, ok := h.defs[r]
	if !ok {
		return RoleDefinition{}, false
	}
	return cloneDefinition(def), true
}

// Priority returns the priority of r, or -1 for unknown roles.
func (h *Hierarchy) Priority(r Role) int {
	def, ok := h.defs[r]
	if !ok {
		return -1
	}
	return def.Priority
}

// Outranks reports whether a has strictly higher priority than b.
func (h *Hierarchy) Outranks(a, b Role) bool {
	return h.Priority(a) > h.Priority(b)
}

// Permissions returns the base permissions held directly by r.
func (h *Hierarchy) Permissions(r Role) []Permission {
	return append([]Permission(nil), h.defs[r].Permissions...)
}

// Expand closes set under inheritance: every role inherited by a member
// is added until nothing new appears. The input is not modified.
func (h *Hierarchy) Expand(set RoleSet) RoleSet {
	out := set.Clone()
	for {
		added := false
		for r := range out {
			for _, inherited := range h.defs[r].Inherits {
				if !out.Has(inherited) {
					out.Add(inherited)
					added = true
				}
			}
		}
		if !added {
			return out
		}
	}
}

// Highest returns the member of set with the greatest priority, or seeker for an empty set.
func (h *Hierarchy) Highest(set RoleSet) Role {
	highest := RoleSeeker
	best := -1
	for r := range set {
		if p := h.Priority(r); p > best {
			best = p
			highest = r
		}
	}
	return highest
}

// Sorted returns the members of set in descending priority.
func (h *Hierarchy) Sorted(set RoleSet) []Role {
	roles := make([]Role, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return h.Priority(roles[i]) > h.Priority(roles[j])
	})
	return roles
}

func cloneDefinition(def RoleDefinition) RoleDefinition {
	def.Inherits = append([]Role(nil), def.Inherits...)
	def.Permissions = append([]Permission(nil), def.Permissions...)
	return def
}

func perms(resource Resource, actions ...Action) []Permission {
	out := make([]Permission, 0, len(actions))
	for _, a := range actions {
		out = append(out, Permission{Resource: resource, Action: a})
	}
	return out
}

func join(groups ...[]Permission) []Permission {
	var out []Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// BuiltInRoles returns the definitions of the built-in hierarchy.
func BuiltInRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Role:        RoleSeeker,
			DisplayName: "Job Seeker",
			Description: "Default role of every identity without a qualifying document or assignment",
			Priority:    0,
			Permissions: join(
				perms(ResourceProfile, ActionRead, ActionUpdate),
				perms(ResourceJobPosting, ActionRead, ActionApply),
			),
		},
		{
			Role:        RoleWorker,
			DisplayName: "Worker",
			Description: "Employee recording their own attendance",
			Priority:    10,
			Permissions: join(
				perms(ResourceProfile, ActionRead, ActionUpdate),
				perms(ResourceAttendance, ActionCheckIn, ActionCheckOut, ActionRead),
				perms(ResourceSchedule, ActionRead),
				perms(ResourceDocument, ActionRead),
			),
		},
		{
			Role:        RoleSupervisor,
			DisplayName: "Supervisor",
			Description: "Shift lead approving attendance of a team",
			Priority:    20,
			Inherits:    []Role{RoleWorker},
			Permissions: join(
				perms(ResourceAttendance, ActionApprove, ActionUpdate),
				perms(ResourceSchedule, ActionUpdate),
				perms(ResourceEmployee, ActionRead),
			),
		},
		{
			Role:        RoleManager,
			DisplayName: "Manager",
			Description: "Manages staff, schedules and reports of an organization",
			Priority:    30,
			Inherits:    []Role{RoleSupervisor, RoleWorker},
			Permissions: join(
				perms(ResourceSchedule, ActionCreate, ActionDelete),
				perms(ResourceEmployee, ActionCreate, ActionUpdate),
				perms(ResourceReport, ActionRead, ActionExport),
				perms(ResourceRole, ActionRead),
			),
		},
		{
			Role:        RoleFranchisee,
			DisplayName: "Franchisee",
			Description: "Operator of a franchise store under an agreement",
			Priority:    40,
			Permissions: join(
				perms(ResourceStore, ActionRead, ActionUpdate),
				perms(ResourceFranchise, ActionRead),
				perms(ResourceReport, ActionRead),
				perms(ResourceEmployee, ActionRead),
			),
		},
		{
			Role:        RoleOwner,
			DisplayName: "Business Owner",
			Description: "Registered owner of a business",
			Priority:    50,
			Inherits:    []Role{RoleManager, RoleWorker},
			Permissions: join(
				perms(ResourceOrganization, ActionRead, ActionUpdate),
				perms(ResourcePayroll, ActionRead, ActionApprove, ActionExport),
				perms(ResourceRole, ActionAssign, ActionRevoke),
				perms(ResourceEmployee, ActionDelete),
				perms(ResourceDocument, ActionCreate, ActionApprove),
			),
		},
		{
			Role:        RoleAdmin,
			DisplayName: "Organization Admin",
			Description: "Single administrator of an organization",
			Priority:    60,
			Inherits:    []Role{RoleManager, RoleWorker},
			Permissions: join(
				perms(ResourceOrganization, ActionRead, ActionUpdate),
				perms(ResourceRole, ActionAssign, ActionRevoke),
				perms(ResourceEmployee, ActionDelete),
				perms(ResourceDocument, ActionCreate, ActionApprove, ActionDelete),
				perms(ResourcePayroll, ActionRead),
			),
		},
		{
			Role:        RoleFranchisor,
			DisplayName: "Franchisor",
			Description: "Grants franchise agreements to stores",
			Priority:    70,
			Inherits:    []Role{RoleFranchisee},
			Permissions: join(
				perms(ResourceFranchise, ActionCreate, ActionUpdate),
				perms(ResourceStore, ActionCreate),
				perms(ResourceReport, ActionExport),
			),
		},
		{
			Role:        RoleFranchiseAdmin,
			DisplayName: "Franchise Administrator",
			Description: "HQ-scoped oversight of all stores of a franchise",
			Priority:    80,
			Permissions: join(
				perms(ResourceFranchise, ActionRead, ActionUpdate),
				perms(ResourceStore, ActionRead, ActionUpdate),
				perms(ResourceAttendance, ActionRead),
				perms(ResourceReport, ActionRead, ActionExport),
				perms(ResourceEmployee, ActionRead),
				perms(ResourceOrganization, ActionRead),
			),
		},
		{
			Role:        RoleMaster,
			DisplayName: "Master Administrator",
			Description: "System-wide override",
			Priority:    100,
			Permissions: []Permission{{Resource: ResourceAny, Action: ActionAny}},
		},
	}
}
