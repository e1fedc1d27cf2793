package rbac

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/orgs"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// recordingAudit keeps events in memory.
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (l *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAudit) LogAuthorization(ctx context.Context, actorID, subjectID, organizationID string, resourceType audit.ResourceType, status audit.EventStatus, message string) error {
	return nil
}

func (l *recordingAudit) LogRoleChange(ctx context.Context, actorID, subjectID, organizationID string, changes *audit.ChangeDetails, message string) error {
	return nil
}

func (l *recordingAudit) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return nil
}

func (l *recordingAudit) Close() error { return nil }

func (l *recordingAudit) ofType(t audit.EventType) []*audit.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*audit.AuditEvent
	for _, e := range l.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// fixture is an engine over a MemoryStore with a fixed clock.
type fixture struct {
	store  *MemoryStore
	engine *Engine
	audit  *recordingAudit
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return testNow })
	rec := &recordingAudit{}
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithAuditLogger(rec)}, opts...)
	return &fixture{
		store:  store,
		engine: NewEngine(store, store, opts...),
		audit:  rec,
	}
}

func (f *fixture) identity(id string) {
	f.store.PutIdentity(Identity{ID: id, Kind: IdentityPersonal, Verified: true, IsActive: true, CreatedAt: testNow})
}

// grant stores an active assignment; an empty org means the system scope.
func (f *fixture) grant(identityID string, role Role, org string) string {
	f.identity(identityID)
	a := RoleAssignment{
		IdentityID: identityID,
		Role:       role,
		IsActive:   true,
		AssignedBy: "seed",
		AssignedAt: testNow.Add(-time.Hour),
	}
	if org != "" {
		a.OrganizationID = strPtr(org)
	}
	return f.store.PutAssignment(a)
}

// grantWindow stores an active assignment valid over [from, until); nil bounds are open.
func (f *fixture) grantWindow(identityID string, role Role, org string, from, until *time.Time) string {
	f.identity(identityID)
	return f.store.PutAssignment(RoleAssignment{
		IdentityID:     identityID,
		OrganizationID: strPtr(org),
		Role:           role,
		IsActive:       true,
		AssignedBy:     "seed",
		AssignedAt:     testNow.Add(-48 * time.Hour),
		ValidFrom:      from,
		ValidUntil:     until,
	})
}

func (f *fixture) document(identityID string, docType DocumentType, role Role, org string) {
	f.identity(identityID)
	f.store.PutDocument(Document{
		IdentityID:     identityID,
		OrganizationID: strPtr(org),
		Type:           docType,
		GrantedRole:    role,
		IsActive:       true,
		CreatedAt:      testNow.Add(-time.Hour),
	})
}

// franchise registers an HQ with one store below it.
func (f *fixture) franchise(hq, store string) {
	f.store.PutOrganization(orgs.Organization{ID: hq, Type: orgs.OrgTypeFranchiseHQ, IsActive: true})
	f.store.PutOrganization(orgs.Organization{ID: store, Type: orgs.OrgTypeFranchiseStore, ParentID: strPtr(hq), IsActive: true})
}
