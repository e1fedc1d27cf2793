package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type payload struct {
		IdentityID string `json:"identity_id"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"identity_id":"u1"}`},
		{name: "invalid JSON", body: `{invalid}`, wantErr: "invalid JSON"},
		{name: "empty body", body: ``, wantErr: "request body is empty"},
		{name: "unknown field", body: `{"identity_id":"u1","role":"master"}`, wantErr: "unknown field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			var dest payload

			err := ParseJSON(req, &dest)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", dest.IdentityID)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`nope`))
	w := httptest.NewRecorder()
	var dest map[string]string

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/identities/u1/roles", nil)
	req = mux.SetURLVars(req, map[string]string{"identity_id": "u1"})

	val, err := ParsePathString(req, "identity_id")
	require.NoError(t, err)
	assert.Equal(t, "u1", val)

	_, err = ParsePathString(req, "assignment_id")
	assert.Error(t, err)
}

func TestParsePathStringOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = mux.SetURLVars(req, map[string]string{"identity_id": "  "})
	w := httptest.NewRecorder()

	_, ok := ParsePathStringOrError(w, req, "identity_id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryOptional(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?organization_id=org-1&blank=%20", nil)

	org := ParseQueryOptional(req, "organization_id")
	require.NotNil(t, org)
	assert.Equal(t, "org-1", *org)

	assert.Nil(t, ParseQueryOptional(req, "blank"))
	assert.Nil(t, ParseQueryOptional(req, "missing"))
}
