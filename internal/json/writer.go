package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/mcp-workers/internal/log"
)

// ErrorResponse is the OAuth-shaped error body used by every JSON endpoint
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, code string, description string) {
	response := ErrorResponse{
		Error:       code,
		Description: description,
	}
	if err := WriteResponse(w, statusCode, response); err != nil {
		http.Error(w, code+": "+description, statusCode)
	}
}

func WriteBadRequest(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusBadRequest, "invalid_request", description)
}

func WriteInternalServerError(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusInternalServerError, "server_error", description)
}

func WriteNotFound(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusNotFound, "not_found", description)
}

func WriteMethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	WriteError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
}

func WriteTooManyRequests(w http.ResponseWriter, description string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limited", description)
}
