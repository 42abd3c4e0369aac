package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mnemohq/mnemo/pkg/memory"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code alongside the message.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

const (
	errCodeBadRequest     = "BAD_REQUEST"
	errCodeForbidden      = "FORBIDDEN"
	errCodeNotFound       = "NOT_FOUND"
	errCodeConflict       = "CONFLICT"
	errCodeBadGateway     = "UPSTREAM_UNAVAILABLE"
	errCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// httpStatusFromError maps the service error taxonomy onto HTTP statuses.
func httpStatusFromError(err error) int {
	switch {
	case errors.Is(err, memory.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, memory.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, memory.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return errCodeBadRequest
	case http.StatusForbidden:
		return errCodeForbidden
	case http.StatusNotFound:
		return errCodeNotFound
	case http.StatusConflict:
		return errCodeConflict
	case http.StatusBadGateway:
		return errCodeBadGateway
	default:
		return errCodeInternalServer
	}
}

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, nothing more to do.
			return
		}
	}
}

// writeError writes the standard error envelope for a service error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromError(err)
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:      errorCodeFromStatus(status),
			Message:   err.Error(),
			RequestID: RequestIDFromContext(r.Context()),
		},
	})
}

// writeValidationError writes a 400 with a specific message.
func writeValidationError(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:      errCodeBadRequest,
			Message:   message,
			RequestID: RequestIDFromContext(r.Context()),
		},
	})
}
