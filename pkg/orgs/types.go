package orgs

import (
	"context"
	"errors"
	"time"
)

// OrgType mirrors the identity kind that owns the organization.
type OrgType string

const (
	OrgTypePersonal       OrgType = "personal"
	OrgTypeBusinessOwner  OrgType = "business_owner"
	OrgTypeCorporation    OrgType = "corporation"
	OrgTypeFranchiseHQ    OrgType = "franchise_hq"
	OrgTypeFranchiseStore OrgType = "franchise_store"
)

// Valid reports whether t is a known organization type.
func (t OrgType) Valid() bool {
	switch t {
	case OrgTypePersonal, OrgTypeBusinessOwner, OrgTypeCorporation, OrgTypeFranchiseHQ, OrgTypeFranchiseStore:
		return true
	}
	return false
}

var (
	ErrNotFound      = errors.New("organization not found")
	ErrInvalidParent = errors.New("invalid parent organization")
	ErrCycle         = errors.New("organization parent cycle")
	ErrInvalidInput  = errors.New("invalid organization")
)

// Organization is a tenant. Only franchise stores have a parent, and that
// parent is always a franchise HQ.
type Organization struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Type            OrgType   `json:"type"`
	ParentID        *string   `json:"parent_id,omitempty"`
	OwnerIdentityID string    `json:"owner_identity_id"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsFranchiseHQ reports whether o is an active franchise headquarters.
func (o *Organization) IsFranchiseHQ() bool {
	return o.IsActive && o.Type == OrgTypeFranchiseHQ
}

// Service manages organizations
type Service interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	ListChildren(ctx context.Context, parentID string) ([]*Organization, error)
	UpdateParent(ctx context.Context, id string, parentID *string) error
	DeactivateOrganization(ctx context.Context, id string) error
}
