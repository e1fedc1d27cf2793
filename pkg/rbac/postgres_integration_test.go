package rbac

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway PostgreSQL and applies the schema.
// Containers are opt-in with ROSTER_TEST_CONTAINERS=1.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if os.Getenv("ROSTER_TEST_CONTAINERS") != "1" {
		t.Skip("set ROSTER_TEST_CONTAINERS=1 to run PostgreSQL tests")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("roster_test"),
		postgres.WithUsername("roster"),
		postgres.WithPassword("roster_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	_, err = RunMigrations(ctx, db)
	require.NoError(t, err)
	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := NewSQLStore(db)

	for _, id := range []string{"a1", "a2", "w1"} {
		require.NoError(t, store.CreateIdentity(ctx, &Identity{ID: id, Kind: IdentityPersonal, IsActive: true}))
	}

	t.Run("unique violations map to sentinels", func(t *testing.T) {
		_, err := store.PersistRoleAssignment(ctx, RoleAssignment{IdentityID: "a1", OrganizationID: strPtr("org-a"), Role: RoleAdmin, IsActive: true, AssignedBy: "root"})
		require.NoError(t, err)

		_, err = store.PersistRoleAssignment(ctx, RoleAssignment{IdentityID: "a2", OrganizationID: strPtr("org-a"), Role: RoleAdmin, IsActive: true, AssignedBy: "root"})
		assert.ErrorIs(t, err, ErrAdminExists)

		_, err = store.PersistRoleAssignment(ctx, RoleAssignment{IdentityID: "w1", OrganizationID: strPtr("org-a"), Role: RoleWorker, IsActive: true, AssignedBy: "root"})
		require.NoError(t, err)
		_, err = store.PersistRoleAssignment(ctx, RoleAssignment{IdentityID: "w1", OrganizationID: strPtr("org-a"), Role: RoleWorker, IsActive: true, AssignedBy: "root"})
		assert.ErrorIs(t, err, ErrDuplicateAssignment)
	})

	t.Run("expiry sweep", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		a, err := store.PersistRoleAssignment(ctx, RoleAssignment{
			IdentityID: "w1", OrganizationID: strPtr("org-b"), Role: RoleSupervisor,
			IsActive: true, AssignedBy: "root", ValidUntil: &past,
		})
		require.NoError(t, err)

		report, err := store.DeactivateExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, int(report.Assignments))

		got, err := store.FetchRoleAssignment(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, ExpiredReason, got.RevokeReason)
	})
}

// Two engines with separate in-process lockers stand in for two replicas;
// the partial unique index still admits only one admin.
func TestPostgresAdminUniquenessAcrossReplicas(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := NewSQLStore(db)

	require.NoError(t, store.CreateIdentity(ctx, &Identity{ID: "root", Kind: IdentityPersonal, IsActive: true}))
	_, err := store.PersistRoleAssignment(ctx, RoleAssignment{IdentityID: "root", Role: RoleMaster, IsActive: true, AssignedBy: SystemActor})
	require.NoError(t, err)

	replicas := []*Engine{NewEngine(store, nil), NewEngine(store, nil)}
	candidates := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	for _, id := range candidates {
		require.NoError(t, store.CreateIdentity(ctx, &Identity{ID: id, Kind: IdentityPersonal, IsActive: true}))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i, id := range candidates {
		wg.Add(1)
		go func(engine *Engine, id string) {
			defer wg.Done()
			_, err := engine.AssignRole(ctx, AssignRequest{IdentityID: id, Role: RoleAdmin, OrganizationID: strPtr("org-x"), RequestedBy: "root"})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAdminExists)
		}(replicas[i%len(replicas)], id)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	admin, err := store.FetchActiveAdmin(ctx, "org-x", time.Now())
	require.NoError(t, err)
	require.NotNil(t, admin)
}
