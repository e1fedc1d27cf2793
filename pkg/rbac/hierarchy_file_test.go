package rbac

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHierarchyOverrides(t *testing.T) {
	h, err := ParseHierarchy(strings.NewReader(`
roles:
  - role: manager
    priority: 35
    permissions:
      - {resource: report, action: export}
  - role: worker
    display_name: Crew Member
`))
	require.NoError(t, err)

	assert.Equal(t, 35, h.Priority(RoleManager))
	assert.Equal(t, []Permission{{Resource: ResourceReport, Action: ActionExport}}, h.Permissions(RoleManager))

	manager, _ := h.Definition(RoleManager)
	assert.Equal(t, []Role{RoleSupervisor, RoleWorker}, manager.Inherits, "omitted fields keep built-in values")

	worker, _ := h.Definition(RoleWorker)
	assert.Equal(t, "Crew Member", worker.DisplayName)
	assert.Equal(t, 10, worker.Priority)
}

func TestParseHierarchyEmptyDocument(t *testing.T) {
	h, err := ParseHierarchy(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultHierarchy().Roles(), h.Roles())
}

func TestParseHierarchyRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		message string
	}{
		{"unknown field", "roles:\n  - role: worker\n    colour: red\n", "colour"},
		{"unknown role", "roles:\n  - role: janitor\n    priority: 5\n", `unknown role "janitor"`},
		{"double override", "roles:\n  - role: worker\n  - role: worker\n", "overridden twice"},
		{"priority tie", "roles:\n  - role: manager\n    priority: 20\n", "share priority 20"},
		{"cycle", "roles:\n  - role: worker\n    inherits: [owner]\n", "inheritance cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHierarchy(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadHierarchyFile(t *testing.T) {
	t.Run("empty path uses built-in table", func(t *testing.T) {
		h, err := LoadHierarchyFile("")
		require.NoError(t, err)
		assert.Equal(t, 60, h.Priority(RoleAdmin))
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hierarchy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles:\n  - role: supervisor\n    priority: 25\n"), 0o600))

		h, err := LoadHierarchyFile(path)
		require.NoError(t, err)
		assert.Equal(t, 25, h.Priority(RoleSupervisor))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadHierarchyFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid file names the path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles:\n  - role: nobody\n"), 0o600))

		_, err := LoadHierarchyFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
	})
}

func TestMarshalHierarchyRoundTrip(t *testing.T) {
	data, err := MarshalHierarchy(DefaultHierarchy())
	require.NoError(t, err)

	h, err := ParseHierarchy(bytes.NewReader(data))
	require.NoError(t, err)
	for _, r := range AllRoles() {
		want, _ := DefaultHierarchy().Definition(r)
		got, _ := h.Definition(r)
		assert.Equal(t, want.Priority, got.Priority, r)
		assert.ElementsMatch(t, want.Permissions, got.Permissions, r)
	}
}
