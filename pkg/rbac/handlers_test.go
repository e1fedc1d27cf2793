package rbac

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roster/pkg/middleware"
)

// serve routes one request through the identity middleware and the RBAC routes.
func (f *fixture) serve(t *testing.T, method, path, identity string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	NewHandlers(f.engine, nil).RegisterRoutes(router)
	handler := middleware.NewIdentityMiddleware("", true).Handler(router)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(middleware.IdentityHeader, identity)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dest))
}

type errorBody struct {
	Error                string            `json:"error"`
	Code                 string            `json:"code"`
	RequiresIntervention bool              `json:"requires_intervention"`
	Result               *TransitionResult `json:"result"`
}

func TestHandlersRequireIdentity(t *testing.T) {
	f := newFixture(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/authz/check"},
		{http.MethodGet, "/identities/w1/roles"},
		{http.MethodGet, "/identities/w1/permissions"},
		{http.MethodPost, "/roles/transitions"},
		{http.MethodPost, "/roles/assignments"},
		{http.MethodPost, "/roles/assignments/bulk"},
		{http.MethodDelete, "/roles/assignments/a-1"},
		{http.MethodPost, "/documents/validate"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := f.serve(t, rt.method, rt.path, "", map[string]string{})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestCheckPermissionHandler(t *testing.T) {
	f := newFixture(t)
	f.document("w1", DocumentEmploymentContract, RoleWorker, "org-a")
	f.document("m1", DocumentManagementAppointment, RoleManager, "org-a")

	t.Run("allowed for the requester", func(t *testing.T) {
		w := f.serve(t, http.MethodPost, "/authz/check", "w1", CheckPermissionRequest{
			Resource:       ResourceAttendance,
			Action:         ActionCheckIn,
			OrganizationID: strPtr("org-a"),
		})
		require.Equal(t, http.StatusOK, w.Code)

		var d PermissionDecision
		decode(t, w, &d)
		assert.True(t, d.Allowed)
		assert.Equal(t, "w1", d.IdentityID)
	})

	t.Run("denial is still 200", func(t *testing.T) {
		w := f.serve(t, http.MethodPost, "/authz/check", "m1", CheckPermissionRequest{
			IdentityID:     "w1",
			Resource:       ResourcePayroll,
			Action:         ActionApprove,
			OrganizationID: strPtr("org-a"),
		})
		require.Equal(t, http.StatusOK, w.Code)

		var d PermissionDecision
		decode(t, w, &d)
		assert.False(t, d.Allowed)
		assert.Equal(t, "w1", d.IdentityID)
		assert.Equal(t, ReasonInsufficientPermission, d.Reason)
	})

	t.Run("missing action", func(t *testing.T) {
		w := f.serve(t, http.MethodPost, "/authz/check", "w1", CheckPermissionRequest{Resource: ResourceAttendance})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body errorBody
		decode(t, w, &body)
		assert.Equal(t, "validation", body.Code)
	})
}

func TestEffectiveRolesHandlers(t *testing.T) {
	f := newFixture(t)
	f.document("m1", DocumentManagementAppointment, RoleManager, "org-a")

	w := f.serve(t, http.MethodGet, "/identities/m1/roles?organization_id=org-a", "m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var set EffectiveRoleSet
	decode(t, w, &set)
	assert.Equal(t, []Role{RoleManager, RoleSupervisor, RoleWorker}, set.Roles)
	assert.Equal(t, RoleManager, set.Highest)

	w = f.serve(t, http.MethodGet, "/identities/m1/permissions?organization_id=org-a", "m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perms EffectivePermissionsResponse
	decode(t, w, &perms)
	assert.Equal(t, Scope("org-a"), perms.Scope)
	assert.Contains(t, perms.Permissions, Permission{Resource: ResourceSchedule, Action: ActionUpdate})

	t.Run("seeker has an empty list, not null", func(t *testing.T) {
		w := f.serve(t, http.MethodGet, "/identities/nobody/permissions", "nobody", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), `"permissions":null`)
	})
}

func TestIdentityQueriesNeedRoleRead(t *testing.T) {
	f := newFixture(t)
	f.document("w1", DocumentEmploymentContract, RoleWorker, "org-a")
	f.document("w2", DocumentEmploymentContract, RoleWorker, "org-a")
	f.document("m1", DocumentManagementAppointment, RoleManager, "org-a")
	f.grant("root", RoleMaster, "")

	check := func(identityID string, org *string) CheckPermissionRequest {
		return CheckPermissionRequest{IdentityID: identityID, Resource: ResourceAttendance, Action: ActionCheckIn, OrganizationID: org}
	}
	tests := []struct {
		name      string
		method    string
		path      string
		requester string
		body      interface{}
		status    int
	}{
		{"own roles", http.MethodGet, "/identities/w1/roles?organization_id=org-a", "w1", nil, http.StatusOK},
		{"own roles without organization", http.MethodGet, "/identities/w1/roles", "w1", nil, http.StatusOK},
		{"own permissions", http.MethodGet, "/identities/w1/permissions?organization_id=org-a", "w1", nil, http.StatusOK},
		{"own check", http.MethodPost, "/authz/check", "w1", check("w1", strPtr("org-a")), http.StatusOK},
		{"worker reads a coworker's roles", http.MethodGet, "/identities/w2/roles?organization_id=org-a", "w1", nil, http.StatusForbidden},
		{"worker reads a coworker's permissions", http.MethodGet, "/identities/w2/permissions?organization_id=org-a", "w1", nil, http.StatusForbidden},
		{"worker checks a coworker", http.MethodPost, "/authz/check", "w1", check("w2", strPtr("org-a")), http.StatusForbidden},
		{"manager reads staff roles", http.MethodGet, "/identities/w1/roles?organization_id=org-a", "m1", nil, http.StatusOK},
		{"manager reads staff permissions", http.MethodGet, "/identities/w1/permissions?organization_id=org-a", "m1", nil, http.StatusOK},
		{"manager checks staff", http.MethodPost, "/authz/check", "m1", check("w1", strPtr("org-a")), http.StatusOK},
		{"manager outside the organization", http.MethodGet, "/identities/w1/roles?organization_id=org-b", "m1", nil, http.StatusForbidden},
		{"manager in the system scope", http.MethodPost, "/authz/check", "m1", check("w1", nil), http.StatusForbidden},
		{"master reads anyone", http.MethodGet, "/identities/w1/permissions", "root", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.serve(t, tt.method, tt.path, tt.requester, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusForbidden {
				var body errorBody
				decode(t, w, &body)
				assert.Equal(t, "permission_denied", body.Code)
			}
		})
	}
}

func TestAssignRoleHandler(t *testing.T) {
	f := newFixture(t)
	f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
	f.identity("w1")

	req := AssignRequest{IdentityID: "w1", Role: RoleWorker, OrganizationID: strPtr("org-a"), RequestedBy: "spoofed"}
	w := f.serve(t, http.MethodPost, "/roles/assignments", "boss", req)
	require.Equal(t, http.StatusCreated, w.Code)

	var a RoleAssignment
	decode(t, w, &a)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "boss", a.AssignedBy, "requester comes from the identity header")

	t.Run("duplicate is a conflict", func(t *testing.T) {
		w := f.serve(t, http.MethodPost, "/roles/assignments", "boss", req)
		assert.Equal(t, http.StatusConflict, w.Code)
		var body errorBody
		decode(t, w, &body)
		assert.Equal(t, "duplicate_assignment", body.Code)
	})

	t.Run("outranked requester is forbidden", func(t *testing.T) {
		w := f.serve(t, http.MethodPost, "/roles/assignments", "w1", AssignRequest{
			IdentityID: "w2", Role: RoleSupervisor, OrganizationID: strPtr("org-a"),
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		var body errorBody
		decode(t, w, &body)
		assert.Equal(t, "hierarchy_violation", body.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		router := mux.NewRouter()
		NewHandlers(f.engine, nil).RegisterRoutes(router)
		r := httptest.NewRequest(http.MethodPost, "/roles/assignments", bytes.NewBufferString("{"))
		r.Header.Set(middleware.IdentityHeader, "boss")
		rec := httptest.NewRecorder()
		middleware.NewIdentityMiddleware("", false).Handler(router).ServeHTTP(rec, r)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBulkAssignRolesHandler(t *testing.T) {
	f := newFixture(t)
	f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
	f.identity("w1")
	f.identity("w2")

	w := f.serve(t, http.MethodPost, "/roles/assignments/bulk", "boss", BulkAssignRequest{Items: []BulkAssignItem{
		{IdentityID: "w1", Role: RoleWorker, OrganizationID: strPtr("org-a")},
		{IdentityID: "w2", Role: RoleMaster},
	}})
	require.Equal(t, http.StatusOK, w.Code)

	var result BulkAssignResult
	decode(t, w, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].Success)
	assert.Equal(t, "hierarchy_violation", result.Results[1].Code)

	t.Run("empty batch", func(t *testing.T) {
		w := f.serve(t, http.MethodPost, "/roles/assignments/bulk", "boss", BulkAssignRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRevokeRoleHandler(t *testing.T) {
	f := newFixture(t)
	f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
	id := f.grant("w1", RoleWorker, "org-a")

	w := f.serve(t, http.MethodDelete, "/roles/assignments/"+id+"?reason=contract+ended", "boss", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var revoked RoleAssignment
	decode(t, w, &revoked)
	assert.False(t, revoked.IsActive)
	assert.Equal(t, "contract ended", revoked.RevokeReason)

	t.Run("already revoked", func(t *testing.T) {
		w := f.serve(t, http.MethodDelete, "/roles/assignments/"+id, "boss", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown assignment", func(t *testing.T) {
		w := f.serve(t, http.MethodDelete, "/roles/assignments/missing", "boss", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTransitionRoleHandler(t *testing.T) {
	transition := TransitionRequest{
		IdentityID:     "w1",
		OrganizationID: strPtr("org-a"),
		FromRole:       RoleWorker,
		ToRole:         RoleSupervisor,
	}

	t.Run("completed", func(t *testing.T) {
		f := newFixture(t)
		f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
		f.grant("w1", RoleWorker, "org-a")

		w := f.serve(t, http.MethodPost, "/roles/transitions", "boss", transition)
		require.Equal(t, http.StatusOK, w.Code)
		var result TransitionResult
		decode(t, w, &result)
		assert.Equal(t, TransitionCompleted, result.Status)
		require.NotNil(t, result.Assigned)
		assert.Equal(t, RoleSupervisor, result.Assigned.Role)
	})

	t.Run("hierarchy violation", func(t *testing.T) {
		f := newFixture(t)
		f.document("sup", DocumentManagementAppointment, RoleSupervisor, "org-a")
		f.grant("w1", RoleWorker, "org-a")

		w := f.serve(t, http.MethodPost, "/roles/transitions", "sup", transition)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("role not held", func(t *testing.T) {
		f := newFixture(t)
		f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
		f.identity("w1")

		w := f.serve(t, http.MethodPost, "/roles/transitions", "boss", transition)
		assert.Equal(t, http.StatusConflict, w.Code)
		var body errorBody
		decode(t, w, &body)
		assert.Equal(t, "role_not_held", body.Code)
	})

	t.Run("rolled back carries the result", func(t *testing.T) {
		f := newFixture(t)
		f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
		f.grant("w1", RoleWorker, "org-a")
		f.store.OnPersist(func(a RoleAssignment) error {
			if a.Role == RoleSupervisor {
				return errors.New("disk full")
			}
			return nil
		})

		w := f.serve(t, http.MethodPost, "/roles/transitions", "boss", transition)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body errorBody
		decode(t, w, &body)
		assert.False(t, body.RequiresIntervention)
		require.NotNil(t, body.Result)
		assert.Equal(t, TransitionRolledBack, body.Result.Status)
		assert.NotContains(t, body.Error, "disk full", "internal errors are not echoed")
	})

	t.Run("compensation failure requires intervention", func(t *testing.T) {
		f := newFixture(t)
		f.document("boss", DocumentBusinessRegistration, RoleOwner, "org-a")
		f.grant("w1", RoleWorker, "org-a")
		f.store.OnPersist(func(RoleAssignment) error { return errors.New("database unavailable") })

		w := f.serve(t, http.MethodPost, "/roles/transitions", "boss", transition)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body errorBody
		decode(t, w, &body)
		assert.True(t, body.RequiresIntervention)
		assert.Equal(t, "compensation_failure", body.Code)
		require.NotNil(t, body.Result)
		assert.Equal(t, TransitionCompensationFailed, body.Result.Status)
	})
}

func TestValidateDocumentHandler(t *testing.T) {
	f := newFixture(t)

	w := f.serve(t, http.MethodPost, "/documents/validate", "clerk", Document{
		IdentityID:     "w1",
		OrganizationID: strPtr("org-a"),
		Type:           DocumentFranchiseAgreement,
		GrantedRole:    RoleFranchisee,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":true}`, w.Body.String())

	w = f.serve(t, http.MethodPost, "/documents/validate", "clerk", Document{
		IdentityID:     "w1",
		OrganizationID: strPtr("org-a"),
		Type:           DocumentEmploymentContract,
		GrantedRole:    RoleOwner,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "invalid_document_role", body.Code)
}
