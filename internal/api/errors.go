package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"mobidoc/pkg/types"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrNoDoctorAvailable):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the client-facing text. Denials are uniform so a caller
// cannot learn which consultations exist.
func messageFor(err error) string {
	switch {
	case errors.Is(err, types.ErrMissingCredential):
		return "No token provided"
	case errors.Is(err, types.ErrUnauthenticated):
		return "Invalid token"
	case errors.Is(err, types.ErrAccessDenied):
		return "Access denied"
	case errors.Is(err, types.ErrNoDoctorAvailable):
		return "No available doctor found for this specialization"
	case errors.Is(err, types.ErrConsultationNotFound):
		return "Consultation not found"
	case errors.Is(err, types.ErrNotFound):
		return "Not found"
	case errors.Is(err, types.ErrSpecializationMissing):
		return "Specialization is required"
	case errors.Is(err, types.ErrInvalidStatus):
		return "Invalid status"
	case errors.Is(err, types.ErrInvalidTransition):
		return "Illegal status transition"
	case errors.Is(err, types.ErrInvalidInput):
		return "Invalid request"
	case errors.Is(err, types.ErrStoreFailure):
		return "Service temporarily unavailable"
	default:
		return "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
