package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roster/pkg/middleware"
	"github.com/platinummonkey/roster/pkg/observability"
)

func TestManager(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	cfg.Logger = observability.NewDiscardLogger()
	cfg.AuditLogger = &recordingAudit{}
	m := NewManager(db, nil, cfg)
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx), "initialize is idempotent")

	store := m.Store()
	for _, id := range []string{"root", "boss", "w1"} {
		require.NoError(t, store.CreateIdentity(ctx, &Identity{ID: id, Kind: IdentityPersonal, IsActive: true}))
	}
	require.NoError(t, store.CreateDocument(ctx, &Document{
		IdentityID:     "boss",
		OrganizationID: strPtr("org-a"),
		Type:           DocumentBusinessRegistration,
		GrantedRole:    RoleOwner,
		IsActive:       true,
	}))
	_, err := store.PersistRoleAssignment(ctx, RoleAssignment{IdentityID: "root", Role: RoleMaster, IsActive: true, AssignedBy: SystemActor})
	require.NoError(t, err)

	router := mux.NewRouter()
	m.RegisterRoutes(router)
	handler := middleware.NewIdentityMiddleware("", false).Handler(router)

	post := func(path, identity string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set(middleware.IdentityHeader, identity)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := post("/roles/assignments", "boss", AssignRequest{IdentityID: "w1", Role: RoleWorker, OrganizationID: strPtr("org-a")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = post("/roles/transitions", "boss", TransitionRequest{
		IdentityID: "w1", OrganizationID: strPtr("org-a"), FromRole: RoleWorker, ToRole: RoleSupervisor,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = post("/roles/assignments", "root", AssignRequest{IdentityID: "boss", Role: RoleAdmin, OrganizationID: strPtr("org-a")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	get := func(path, identity string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(middleware.IdentityHeader, identity)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, get("/identities/w1/roles?organization_id=org-a", "w1"))
	assert.Equal(t, http.StatusForbidden, get("/identities/boss/roles?organization_id=org-a", "w1"))
	assert.Equal(t, http.StatusOK, get("/identities/w1/permissions?organization_id=org-a", "boss"))

	decision, err := m.Engine().Authorize(ctx, "w1", ActionApprove, ResourceAttendance, strPtr("org-a"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		Identities:        3,
		ActiveDocuments:   1,
		ActiveAssignments: 3,
		Masters:           1,
		Admins:            1,
	}, stats)

	report, err := m.Sweeper().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiryReport{}, report)
	assert.NotNil(t, m.Middleware())
}
