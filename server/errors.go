package server

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the only error shape the public listener returns outside the
// completion endpoint. It never carries internal error text.
type ErrorBody struct {
	Error      bool   `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// SanitizedMessage maps a status code to its public phrase.
func SanitizedMessage(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "Resource not found"
	case status == http.StatusUnauthorized:
		return "Unauthorized"
	case status == http.StatusBadRequest:
		return "Bad request"
	case status == http.StatusForbidden:
		return "Forbidden"
	case status == http.StatusTooManyRequests:
		return "Too many requests"
	case status >= http.StatusInternalServerError:
		return "Internal server error"
	default:
		return "An error occurred"
	}
}

// WriteError writes the sanitized JSON error for status.
func WriteError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Error:      true,
		Message:    SanitizedMessage(status),
		StatusCode: status,
	})
}
