package server

import (
	"encoding/json"
	"net/http"

	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// Error codes carried in ErrorResponse.
const (
	CodeInvalidRequest = "invalid_request"
	CodeTooLarge       = "request_too_large"
	CodeNotFound       = "not_found"
	CodeNotImplemented = "not_implemented"
	CodeInternal       = "internal_error"
)

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	id := logging.RequestID(r.Context())
	if id == "" {
		// Outer middleware runs before the id reaches the context.
		id = w.Header().Get(RequestIDHeader)
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		RequestID: id,
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
