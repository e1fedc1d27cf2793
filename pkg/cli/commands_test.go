package cli

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roster/pkg/audit"
	"github.com/platinummonkey/roster/pkg/rbac"
)

func TestMigrateCommand(t *testing.T) {
	env, out, dsn := testEnv(t)
	root := NewRootCommand(env)

	require.NoError(t, root.Execute([]string{"migrate", "-db", dsn}))
	assert.Contains(t, out.String(), "applied ")
	assert.NotContains(t, out.String(), "applied 0 migration(s)")

	out.Reset()
	require.NoError(t, root.Execute([]string{"migrate", "-db", dsn}))
	assert.Contains(t, out.String(), "applied 0 migration(s)")
}

func TestMigrateList(t *testing.T) {
	env, out, _ := testEnv(t)
	require.NoError(t, NewRootCommand(env).Execute([]string{"migrate", "-list", "-db", ""}))
	for _, m := range rbac.GetMigrations() {
		assert.Contains(t, out.String(), m.Description)
	}
}

func TestGrantMaster(t *testing.T) {
	env, out, dsn := testEnv(t)
	root := NewRootCommand(env)
	require.NoError(t, root.Execute([]string{"migrate", "-db", dsn}))

	t.Run("unknown identity without -create", func(t *testing.T) {
		err := root.Execute([]string{"grant-master", "-db", dsn, "-identity", "ghost"})
		require.Error(t, err)
		assert.ErrorIs(t, err, rbac.ErrNotFound)
	})

	t.Run("identity is required", func(t *testing.T) {
		err := root.Execute([]string{"grant-master", "-db", dsn})
		assert.EqualError(t, err, "-identity is required")
	})

	out.Reset()
	require.NoError(t, root.Execute([]string{
		"grant-master", "-db", dsn, "-identity", "root", "-create",
		"-operator", "ops", "-reason", "initial setup",
	}))
	assert.Contains(t, out.String(), "granted master to root")

	db := openTestDB(t, dsn)
	assignments, err := rbac.NewSQLStore(db).FetchActiveRoleAssignments(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, rbac.RoleMaster, assignments[0].Role)
	assert.Equal(t, rbac.SystemActor, assignments[0].AssignedBy)

	reader, err := env.Audit(context.Background(), db)
	require.NoError(t, err)
	events, err := reader.(*audit.FileLogger).ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthzMasterBootstrap, events[0].EventType)
	assert.Equal(t, "ops", events[0].ActorID)
	assert.Equal(t, "root", events[0].SubjectID)
	assert.Equal(t, assignments[0].ID, events[0].ResourceID)
	assert.Equal(t, "initial setup", events[0].Metadata["reason"])

	out.Reset()
	require.NoError(t, root.Execute([]string{"grant-master", "-db", dsn, "-identity", "root"}))
	assert.Contains(t, out.String(), "root already holds master")

	assignments, err = rbac.NewSQLStore(db).FetchActiveRoleAssignments(context.Background(), "root")
	require.NoError(t, err)
	assert.Len(t, assignments, 1, "a second run grants nothing")

	out.Reset()
	require.NoError(t, root.Execute([]string{"audit", "-db", dsn, "-subject", "root", "-type", "authz.master_bootstrap"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "authz.master_bootstrap")
	assert.Contains(t, lines[1], "ops")

	out.Reset()
	require.NoError(t, root.Execute([]string{"audit", "-db", dsn, "-subject", "nobody"}))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 1, "header only")
}

func TestAuditCommandNeedsSearchableBackend(t *testing.T) {
	env, _, dsn := testEnv(t)
	env.Audit = func(context.Context, *sql.DB) (audit.Logger, error) { return audit.NewNoOpLogger(), nil }

	err := NewRootCommand(env).Execute([]string{"audit", "-db", dsn})
	assert.EqualError(t, err, "audit backend does not support search")
}

func TestGrantMasterInactiveIdentity(t *testing.T) {
	env, _, dsn := testEnv(t)
	root := NewRootCommand(env)
	require.NoError(t, root.Execute([]string{"migrate", "-db", dsn}))

	db := openTestDB(t, dsn)
	require.NoError(t, rbac.NewSQLStore(db).CreateIdentity(context.Background(), &rbac.Identity{
		ID: "gone", Kind: rbac.IdentityPersonal,
	}))

	err := root.Execute([]string{"grant-master", "-db", dsn, "-identity", "gone"})
	assert.EqualError(t, err, "identity gone is inactive")
}

func TestCheckHierarchy(t *testing.T) {
	t.Run("built-in table", func(t *testing.T) {
		env, out, _ := testEnv(t)
		require.NoError(t, NewRootCommand(env).Execute([]string{"check-hierarchy"}))

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, len(rbac.DefaultHierarchy().Roles())+1)
		assert.Contains(t, lines[0], "PRIORITY")
		assert.Contains(t, out.String(), "master")
		assert.Contains(t, out.String(), "100")
	})

	t.Run("override file as yaml", func(t *testing.T) {
		env, out, _ := testEnv(t)
		path := filepath.Join(t.TempDir(), "roles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles:\n  - role: manager\n    priority: 35\n"), 0o600))

		require.NoError(t, NewRootCommand(env).Execute([]string{"check-hierarchy", "-file", path, "-format", "yaml"}))
		h, err := rbac.ParseHierarchy(strings.NewReader(out.String()))
		require.NoError(t, err)
		assert.Equal(t, 35, h.Priority(rbac.RoleManager))
	})

	t.Run("invalid file", func(t *testing.T) {
		env, _, _ := testEnv(t)
		path := filepath.Join(t.TempDir(), "roles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles:\n  - role: janitor\n"), 0o600))

		err := NewRootCommand(env).Execute([]string{"check-hierarchy", "-file", path})
		require.Error(t, err)
		assert.ErrorIs(t, err, rbac.ErrValidation)
	})

	t.Run("unknown format", func(t *testing.T) {
		env, _, _ := testEnv(t)
		err := NewRootCommand(env).Execute([]string{"check-hierarchy", "-format", "xml"})
		assert.EqualError(t, err, `unknown format "xml" (must be table or yaml)`)
	})
}

func TestSweepCommand(t *testing.T) {
	env, out, dsn := testEnv(t)
	root := NewRootCommand(env)
	require.NoError(t, root.Execute([]string{"migrate", "-db", dsn}))

	ctx := context.Background()
	store := rbac.NewSQLStore(openTestDB(t, dsn))
	require.NoError(t, store.CreateIdentity(ctx, &rbac.Identity{ID: "w1", Kind: rbac.IdentityPersonal, IsActive: true}))

	org := "org-a"
	expired := time.Now().Add(-time.Hour)
	_, err := store.PersistRoleAssignment(ctx, rbac.RoleAssignment{
		IdentityID: "w1", OrganizationID: &org, Role: rbac.RoleWorker, IsActive: true,
		AssignedBy: rbac.SystemActor, ValidUntil: &expired,
	})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, root.Execute([]string{"sweep", "-db", dsn}))
	assert.Equal(t, "deactivated 0 document(s) and 1 assignment(s)\n", out.String())

	out.Reset()
	require.NoError(t, root.Execute([]string{"sweep", "-db", dsn}))
	assert.Equal(t, "deactivated 0 document(s) and 0 assignment(s)\n", out.String())
}

func openTestDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
