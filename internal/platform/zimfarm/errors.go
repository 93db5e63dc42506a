package zimfarm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is matched by an APIError with status 404.
	ErrNotFound = errors.New("zimfarm resource not found")

	// ErrBadRequest is matched by an APIError with status 400. The farm rejected
	// the payload, most likely because of user-supplied input.
	ErrBadRequest = errors.New("zimfarm rejected the request")

	// ErrUnauthorized is matched by an APIError with status 401 or 403, and
	// returned when authentication itself fails.
	ErrUnauthorized = errors.New("zimfarm authentication failed")

	// ErrInvalidConfig is returned by NewClient for unusable configuration.
	ErrInvalidConfig = errors.New("invalid zimfarm client configuration")

	// ErrMalformedResponse is returned when a successful response can't be decoded.
	ErrMalformedResponse = errors.New("malformed zimfarm response")
)

// APIError is a non-2xx answer of the farm.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	// Reason is the farm's error and error_description, or the raw body.
	Reason string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("zimfarm %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Reason)
}

// Unwrap maps the status code to the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return nil
	}
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}
