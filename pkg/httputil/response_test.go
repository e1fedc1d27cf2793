package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"role": "manager"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "manager")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadGateway, errors.New("upstream gone"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream gone", decodeError(t, w).Error)
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()

	WriteBadRequest(w, "identity_id is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "validation", resp.Code)
	assert.Equal(t, "identity_id is required", resp.Error)
}

func TestWriteConflict(t *testing.T) {
	w := httptest.NewRecorder()

	WriteConflict(w, "admin_exists", "organization already has an admin")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "admin_exists", decodeError(t, w).Code)
}

func TestWriteErrorResponse_RequiresIntervention(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusInternalServerError, ErrorResponse{
		Error:                "restore failed",
		Code:                 "compensation_failure",
		RequiresIntervention: true,
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"requires_intervention":true`)
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "internal", resp.Code)
	assert.NotContains(t, w.Body.String(), "requires_intervention")
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no identity") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "insufficient permissions") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "assignment not found") }, http.StatusNotFound},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests},
		{"created", func(w http.ResponseWriter) { _ = WriteCreated(w, map[string]int{"n": 1}) }, http.StatusCreated},
		{"success", func(w http.ResponseWriter) { _ = WriteSuccess(w, map[string]int{"n": 1}) }, http.StatusOK},
		{"no content", WriteNoContent, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
