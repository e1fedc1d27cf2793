package rbac

import (
	"fmt"
	"sort"
)

// DocumentClassifier holds the fixed table of roles each document type may grant.
type DocumentClassifier struct {
	allowed map[DocumentType]RoleSet
}

// NewDocumentClassifier returns the classifier for the built-in document types.
func NewDocumentClassifier() *DocumentClassifier {
	return &DocumentClassifier{
		allowed: map[DocumentType]RoleSet{
			DocumentEmploymentContract:    NewRoleSet(RoleWorker),
			DocumentManagementAppointment: NewRoleSet(RoleManager, RoleSupervisor),
			DocumentBusinessRegistration:  NewRoleSet(RoleOwner),
			DocumentFranchiseAgreement:    NewRoleSet(RoleFranchisee, RoleFranchisor),
		},
	}
}

// Validate reports whether documentType may grant role.
func (c *DocumentClassifier) Validate(documentType DocumentType, role Role) bool {
	roles, ok := c.allowed[documentType]
	return ok && roles.Has(role)
}

// Check is Validate as an error.
func (c *DocumentClassifier) Check(documentType DocumentType, role Role) error {
	if !c.Validate(documentType, role) {
		return &DocumentRoleError{Type: documentType, Role: role}
	}
	return nil
}

// AllowedRoles returns the roles documentType may grant, sorted by name.
func (c *DocumentClassifier) AllowedRoles(documentType DocumentType) []Role {
	return c.allowed[documentType].Slice()
}

// DocumentTypes returns the known document types, sorted.
func (c *DocumentClassifier) DocumentTypes() []DocumentType {
	types := make([]DocumentType, 0, len(c.allowed))
	for t := range c.allowed {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ValidateDocument checks a document before it is stored: required fields,
// a well-formed window and an allowed type/role pairing.
func (c *DocumentClassifier) ValidateDocument(doc Document) error {
	if doc.IdentityID == "" {
		return &ValidationError{Field: "identity_id", Message: "is required"}
	}
	if doc.OrganizationID == nil || *doc.OrganizationID == "" {
		return &ValidationError{Field: "organization_id", Message: "documents grant organization roles and require an organization"}
	}
	if _, ok := c.allowed[doc.Type]; !ok {
		return &ValidationError{Field: "document_type", Message: fmt.Sprintf("unknown document type %q", doc.Type)}
	}
	if doc.ValidFrom != nil && doc.ValidUntil != nil && !doc.ValidUntil.After(*doc.ValidFrom) {
		return &ValidationError{Field: "valid_until", Message: "must be after valid_from"}
	}
	return c.Check(doc.Type, doc.GrantedRole)
}
