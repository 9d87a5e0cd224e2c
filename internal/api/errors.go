package api

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrInvalidCredentials is returned when the login endpoint rejects the
	// supplied email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrValidationFailed is returned on a 422 response with field-level
	// detail; match it with errors.Is and inspect via errors.As on
	// *ValidationError.
	ErrValidationFailed = errors.New("validation failed")

	// ErrMalformedResponse is returned when a 2xx response is missing
	// required fields or cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnauthorized is returned when an authenticated call is rejected
	// and no refresh was possible.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetworkUnreachable is returned when no HTTP status was available.
	ErrNetworkUnreachable = errors.New("unable to reach server")
)

// HTTPError represents an error response from the server with HTTP status
// code and message.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// ValidationError carries field-level validation detail from a 422 response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
