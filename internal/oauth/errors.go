package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgellow/mcp-workers/internal/log"
)

type ErrorCode string

const (
	ErrInvalidRequest          ErrorCode = "invalid_request"
	ErrInvalidClientMetadata   ErrorCode = "invalid_client_metadata"
	ErrInvalidClient           ErrorCode = "invalid_client"
	ErrUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrInvalidGrant            ErrorCode = "invalid_grant"
	ErrServerError             ErrorCode = "server_error"
)

// Error is a protocol error returned as {"error","error_description"}.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`

	internal bool
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return string(e.Code)
}

// Status is 500 for unexpected internal faults and 400 for everything else.
func (e *Error) Status() int {
	if e.internal {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// internalError logs the cause and returns a generic server_error.
func internalError(component, op string, cause error) *Error {
	log.LogErrorWithFields(component, "Internal fault", map[string]any{
		"operation": op,
		"error":     cause.Error(),
	})
	return &Error{Code: ErrServerError, Description: "internal server error", internal: true}
}

// AsError returns err as a protocol error, mapping anything else to a generic server_error.
func AsError(err error) *Error {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return &Error{Code: ErrServerError, Description: "internal server error", internal: true}
}

// WriteError writes e as a JSON body with no-store caching.
func WriteError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.Status())
	if err := json.NewEncoder(w).Encode(e); err != nil {
		log.LogError("Failed to encode OAuth error response: %v", err)
	}
}
