package rbac

import (
	"time"

	"github.com/platinummonkey/roster/pkg/observability"
)

// Derivation is the per-scope result of DeriveRawRoles before resolution.
type Derivation struct {
	IdentityID string
	// Roles holds the inheritance-closed role set of every scope with at least
	// one qualifying record.
	Roles map[Scope]RoleSet
	// Assignments holds the qualifying explicit assignments per scope; their
	// custom permissions feed the evaluator.
	Assignments map[Scope][]RoleAssignment
	// Skipped counts records ignored because they were malformed.
	Skipped int
}

// HasAny reports whether role appears in any scope.
func (d *Derivation) HasAny(role Role) bool {
	for _, set := range d.Roles {
		if set.Has(role) {
			return true
		}
	}
	return false
}

// RoleDeriver turns documents and assignments into per-scope role sets.
type RoleDeriver struct {
	hierarchy  *Hierarchy
	classifier *DocumentClassifier
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewRoleDeriver creates a deriver. logger and metrics may be nil.
func NewRoleDeriver(h *Hierarchy, c *DocumentClassifier, logger *observability.Logger, metrics *observability.Metrics) *RoleDeriver {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &RoleDeriver{hierarchy: h, classifier: c, logger: logger, metrics: metrics}
}

// DeriveRawRoles returns the role set of every scope for identity at instant now.
// Only records that are active and whose window contains now count. An identity
// without any qualifying record holds {seeker} in the system scope.
func (d *RoleDeriver) DeriveRawRoles(identity Identity, documents []Document, assignments []RoleAssignment, now time.Time) map[Scope]RoleSet {
	return d.Derive(identity, documents, assignments, now).Roles
}

// Derive is DeriveRawRoles keeping the contributing assignments.
func (d *RoleDeriver) Derive(identity Identity, documents []Document, assignments []RoleAssignment, now time.Time) *Derivation {
	out := &Derivation{
		IdentityID:  identity.ID,
		Roles:       make(map[Scope]RoleSet),
		Assignments: make(map[Scope][]RoleAssignment),
	}

	if identity.IsActive {
		for _, doc := range documents {
			d.addDocument(out, identity, doc, now)
		}
		for _, a := range assignments {
			d.addAssignment(out, identity, a, now)
		}
	}

	if len(out.Roles) == 0 {
		out.Roles[SystemScope] = NewRoleSet(RoleSeeker)
		return out
	}
	for scope, set := range out.Roles {
		out.Roles[scope] = d.hierarchy.Expand(set)
	}
	return out
}

func (d *RoleDeriver) addDocument(out *Derivation, identity Identity, doc Document, now time.Time) {
	if doc.IdentityID != identity.ID || !doc.ActiveAt(now) {
		return
	}
	log := d.logger.WithFields(map[string]interface{}{
		"identity_id":   identity.ID,
		"document_id":   doc.ID,
		"document_type": string(doc.Type),
		"granted_role":  string(doc.GrantedRole),
	})
	if err := d.classifier.Check(doc.Type, doc.GrantedRole); err != nil {
		log.WithError(err).Warn("skipping document with invalid type/role combination")
		d.metrics.RecordSkipped("document", "invalid_combination")
		out.Skipped++
		return
	}
	if doc.OrganizationID == nil {
		log.Warn("skipping document without organization")
		d.metrics.RecordSkipped("document", "missing_organization")
		out.Skipped++
		return
	}
	scope := ScopeOf(doc.OrganizationID)
	d.roleSet(out, scope).Add(doc.GrantedRole)
}

func (d *RoleDeriver) addAssignment(out *Derivation, identity Identity, a RoleAssignment, now time.Time) {
	if a.IdentityID != identity.ID || !a.ActiveAt(now) {
		return
	}
	log := d.logger.WithFields(map[string]interface{}{
		"identity_id":   identity.ID,
		"assignment_id": a.ID,
		"role":          string(a.Role),
	})
	switch {
	case !a.Role.Valid() || a.Role == RoleSeeker:
		log.Warn("skipping assignment with unassignable role")
		d.metrics.RecordSkipped("assignment", "invalid_role")
		out.Skipped++
		return
	case a.Role == RoleMaster && a.OrganizationID != nil:
		log.Warn("skipping organization-scoped master assignment")
		d.metrics.RecordSkipped("assignment", "scoped_master")
		out.Skipped++
		return
	case a.Role != RoleMaster && a.OrganizationID == nil:
		log.Warn("skipping non-master assignment without organization")
		d.metrics.RecordSkipped("assignment", "missing_organization")
		out.Skipped++
		return
	}
	scope := a.Scope()
	d.roleSet(out, scope).Add(a.Role)
	out.Assignments[scope] = append(out.Assignments[scope], a)
}

func (d *RoleDeriver) roleSet(out *Derivation, scope Scope) RoleSet {
	set, ok := out.Roles[scope]
	if !ok {
		set = make(RoleSet)
		out.Roles[scope] = set
	}
	return set
}
