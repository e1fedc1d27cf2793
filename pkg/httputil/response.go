package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error the service returns.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is a short machine readable reason such as "hierarchy_violation".
	Code string `json:"code,omitempty"`
	// RequiresIntervention is set when an operator must repair state by hand.
	RequiresIntervention bool              `json:"requires_intervention,omitempty"`
	Details              map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes resp with the given status code.
func WriteErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	_ = WriteJSON(w, status, resp)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a 400 with code "validation".
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "validation"})
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found"})
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, code, message string) {
	WriteErrorResponse(w, http.StatusConflict, ErrorResponse{Error: message, Code: code})
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a 500 without leaking err to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal"})
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
