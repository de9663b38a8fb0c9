package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// Error is the JSON error envelope.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`

	// Details carries per-field validation messages.
	Details map[string]string `json:"details,omitempty"`
}

// Common error codes. Security failures use the auth.ErrorKind as code.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeConflict   = "conflict"
	ErrCodeInternal   = "internal_error"
	ErrCodeValidation = "validation_error"
	ErrCodeInvalidKey = "invalid_api_key"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeAuthError maps err onto the envelope. An *auth.Error keeps its own
// status, field and message; anything else is a 500 with a generic message
// so internals never reach the client.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := auth.AsError(err)
	if !ok {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w, "internal server error")
		return
	}

	if ae.Kind == auth.KindTooManyAttempts && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}
	writeJSON(w, ae.Status, Error{
		Status:  ae.Status,
		Code:    string(ae.Kind),
		Field:   ae.Field,
		Message: ae.Message,
	})
}

// writeValidationError writes a 400 listing every rejected field.
func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, Error{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeValidation,
		Message: "request validation failed",
		Details: fields,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
