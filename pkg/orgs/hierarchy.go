package orgs

import (
	"context"
	"errors"
	"fmt"
)

// MaxDepth bounds ancestor walks. Valid trees are at most two levels deep;
// the bound only protects against corrupted data.
const MaxDepth = 16

// Lookup fetches an organization by id.
type Lookup func(ctx context.Context, id string) (*Organization, error)

// ValidateParent checks that child may hang below parent. parent may be nil
// for a root organization.
func ValidateParent(child, parent *Organization) error {
	if parent == nil {
		return nil
	}
	if child.ID != "" && child.ID == parent.ID {
		return fmt.Errorf("%w: organization %s cannot be its own parent", ErrInvalidParent, child.ID)
	}
	if child.Type != OrgTypeFranchiseStore {
		return fmt.Errorf("%w: only franchise stores have a parent, got %s", ErrInvalidParent, child.Type)
	}
	if parent.Type != OrgTypeFranchiseHQ {
		return fmt.Errorf("%w: parent %s is a %s, not a franchise HQ", ErrInvalidParent, parent.ID, parent.Type)
	}
	if !parent.IsActive {
		return fmt.Errorf("%w: parent %s is inactive", ErrInvalidParent, parent.ID)
	}
	return nil
}

// DetectCycle reports ErrCycle if making parentID the parent of id would
// create a loop.
func DetectCycle(ctx context.Context, id string, parentID *string, lookup Lookup) error {
	seen := map[string]bool{id: true}
	current := parentID
	for depth := 0; current != nil; depth++ {
		if seen[*current] {
			return fmt.Errorf("%w: %s reaches itself through %s", ErrCycle, id, *current)
		}
		if depth >= MaxDepth {
			return fmt.Errorf("%w: ancestry of %s deeper than %d", ErrCycle, id, MaxDepth)
		}
		seen[*current] = true

		org, err := lookup(ctx, *current)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = org.ParentID
	}
	return nil
}

// Ancestors returns the parents of org, nearest first.
func Ancestors(ctx context.Context, org *Organization, lookup Lookup) ([]*Organization, error) {
	var out []*Organization
	seen := map[string]bool{org.ID: true}
	current := org.ParentID
	for current != nil && len(out) < MaxDepth {
		if seen[*current] {
			return out, fmt.Errorf("%w: at %s", ErrCycle, *current)
		}
		seen[*current] = true

		parent, err := lookup(ctx, *current)
		if err != nil {
			return out, err
		}
		out = append(out, parent)
		current = parent.ParentID
	}
	return out, nil
}
