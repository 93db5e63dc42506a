package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/service"
	"github.com/openzim/zimit-broker/internal/tracker"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var admission *service.AdmissionError

	switch {
	// Registry corruption is never the caller's fault
	case errors.Is(err, tracker.ErrConsistency):
		return http.StatusInternalServerError

	// Admission decisions
	case errors.As(err, &admission):
		return statusForDecision(admission.Decision.Status)

	// Authorization errors
	case errors.Is(err, service.ErrURLBlacklisted),
		errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, zimfarm.ErrBadRequest):
		return http.StatusBadRequest

	// Farm unreachable or misbehaving
	case errors.Is(err, zimfarm.ErrUnauthorized),
		errors.Is(err, zimfarm.ErrMalformedResponse),
		errors.Is(err, service.ErrMissingTaskID):
		return http.StatusBadGateway

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// statusForDecision maps a refusing tracker decision to a status code.
func statusForDecision(status tracker.Status) int {
	switch status {
	case tracker.StatusInvalidIdentity:
		return http.StatusBadRequest
	case tracker.StatusTooManyTasksForIdentity, tracker.StatusTooManyTasksForIP:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var admission *service.AdmissionError

	switch {
	case errors.Is(err, tracker.ErrConsistency):
		return "An unexpected error occurred"

	case errors.As(err, &admission):
		// the stable decision value is what clients switch on
		return string(admission.Decision.Status)

	case errors.Is(err, service.ErrURLBlacklisted):
		return "This URL cannot be captured"

	case errors.Is(err, service.ErrNotOwner):
		return "You do not own this task"

	case errors.Is(err, service.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, service.ErrInvalidURL):
		return "Invalid URL"

	case errors.Is(err, zimfarm.ErrBadRequest):
		return "The task configuration was rejected"

	case errors.Is(err, zimfarm.ErrUnauthorized),
		errors.Is(err, zimfarm.ErrMalformedResponse),
		errors.Is(err, service.ErrMissingTaskID):
		return "The task farm is not available"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'CreateRequestRequest.Email' Error:Field validation for 'Email' failed on the 'email' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "url", "http_url":
		return "invalid url"
	case "bcp47_language_tag":
		return "invalid language"
	case "max":
		return "too long"
	default:
		return "validation failed"
	}
}
