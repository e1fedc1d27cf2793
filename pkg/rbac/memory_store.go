package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/roster/pkg/orgs"
)

// MemoryStore is an in-memory Store and OrganizationSource. It enforces the
// same uniqueness rules as the SQL schema. Hooks allow tests to inject
// storage failures.
type MemoryStore struct {
	mu            sync.RWMutex
	identities    map[string]Identity
	documents     map[string]Document
	assignments   map[string]RoleAssignment
	organizations map[string]orgs.Organization
	now           func() time.Time

	persistHook func(RoleAssignment) error
	revokeHook  func(assignmentID string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities:    make(map[string]Identity),
		documents:     make(map[string]Document),
		assignments:   make(map[string]RoleAssignment),
		organizations: make(map[string]orgs.Organization),
		now:           time.Now,
	}
}

// SetClock sets the time used for revocation timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// OnPersist installs a hook run before every PersistRoleAssignment; a non-nil
// error aborts the write.
func (s *MemoryStore) OnPersist(hook func(RoleAssignment) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistHook = hook
}

// OnRevoke installs a hook run before every RevokeRoleAssignment.
func (s *MemoryStore) OnRevoke(hook func(assignmentID string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeHook = hook
}

func (s *MemoryStore) PutIdentity(identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.ID] = identity
}

// PutDocument stores doc as is, without classifier checks.
func (s *MemoryStore) PutDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	s.documents[doc.ID] = doc
}

// PutAssignment stores a without uniqueness checks and returns its id.
func (s *MemoryStore) PutAssignment(a RoleAssignment) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.assignments[a.ID] = cloneAssignment(a)
	return a.ID
}

func (s *MemoryStore) PutOrganization(org orgs.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = org
}

// Assignments returns every assignment of identityID, revoked ones included,
// ordered by assignment time.
func (s *MemoryStore) Assignments(identityID string) []RoleAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.IdentityID == identityID {
			out = append(out, cloneAssignment(a))
		}
	}
	sortAssignments(out)
	return out
}

func (s *MemoryStore) FetchIdentity(ctx context.Context, identityID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return nil, fmt.Errorf("%w: identity %s", ErrNotFound, identityID)
	}
	return &identity, nil
}

func (s *MemoryStore) FetchActiveDocuments(ctx context.Context, identityID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.documents {
		if d.IdentityID == identityID && d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FetchActiveRoleAssignments(ctx context.Context, identityID string) ([]RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.IdentityID == identityID && a.Held() {
			out = append(out, cloneAssignment(a))
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *MemoryStore) FetchRoleAssignment(ctx context.Context, assignmentID string) (*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	a = cloneAssignment(a)
	return &a, nil
}

func (s *MemoryStore) FetchActiveAdmin(ctx context.Context, organizationID string, now time.Time) (*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.Held() && !a.Expired(now) && a.Role == RoleAdmin && a.Scope() == Scope(organizationID) {
			a = cloneAssignment(a)
			return &a, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PersistRoleAssignment(ctx context.Context, a RoleAssignment) (*RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persistHook != nil {
		if err := s.persistHook(a); err != nil {
			return nil, err
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.assignments[a.ID]; exists {
		return nil, fmt.Errorf("assignment %s already exists", a.ID)
	}
	if a.Held() {
		for _, other := range s.assignments {
			if !other.Held() {
				continue
			}
			if other.IdentityID == a.IdentityID && other.Role == a.Role && other.Scope() == a.Scope() {
				return nil, ErrDuplicateAssignment
			}
			if a.Role == RoleAdmin && other.Role == RoleAdmin && other.Scope() == a.Scope() {
				return nil, ErrAdminExists
			}
		}
	}

	s.assignments[a.ID] = cloneAssignment(a)
	saved := cloneAssignment(a)
	return &saved, nil
}

func (s *MemoryStore) RevokeRoleAssignment(ctx context.Context, assignmentID, revokedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revokeHook != nil {
		if err := s.revokeHook(assignmentID); err != nil {
			return err
		}
	}
	a, ok := s.assignments[assignmentID]
	if !ok || !a.Held() {
		return fmt.Errorf("%w: active assignment %s", ErrNotFound, assignmentID)
	}
	s.assignments[assignmentID] = markRevoked(a, revokedBy, reason, s.now())
	return nil
}

func (s *MemoryStore) ExpireAssignments(ctx context.Context, slot AssignmentSlot, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, a := range s.assignments {
		if slot.matches(a) && a.Expired(now) {
			s.assignments[id] = markRevoked(a, SystemActor, ExpiredReason, now)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FetchOrganization(ctx context.Context, organizationID string) (*orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[organizationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orgs.ErrNotFound, organizationID)
	}
	return &org, nil
}

// DeactivateExpired implements ExpiryStore.
func (s *MemoryStore) DeactivateExpired(ctx context.Context, now time.Time) (ExpiryReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ExpiryReport
	for id, d := range s.documents {
		if d.IsActive && d.ValidUntil != nil && !now.Before(*d.ValidUntil) {
			d.IsActive = false
			s.documents[id] = d
			report.Documents++
		}
	}
	for id, a := range s.assignments {
		if a.Expired(now) {
			s.assignments[id] = markRevoked(a, SystemActor, ExpiredReason, now)
			report.Assignments++
		}
	}
	return report, nil
}

func cloneAssignment(a RoleAssignment) RoleAssignment {
	if a.CustomPermissions != nil {
		custom := make(CustomPermissions, len(a.CustomPermissions))
		for res, actions := range a.CustomPermissions {
			inner := make(map[Action]bool, len(actions))
			for act, allow := range actions {
				inner[act] = allow
			}
			custom[res] = inner
		}
		a.CustomPermissions = custom
	}
	if a.AccessRestrictions != nil {
		restrictions := make(map[string]interface{}, len(a.AccessRestrictions))
		for k, v := range a.AccessRestrictions {
			restrictions[k] = v
		}
		a.AccessRestrictions = restrictions
	}
	return a
}

func sortAssignments(as []RoleAssignment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].AssignedAt.Equal(as[j].AssignedAt) {
			return as[i].AssignedAt.Before(as[j].AssignedAt)
		}
		return as[i].ID < as[j].ID
	})
}
