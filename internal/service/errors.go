package service

import (
	"errors"
	"fmt"

	"github.com/openzim/zimit-broker/internal/tracker"
)

// Sentinel errors returned by RequestService. The API layer maps them to
// HTTP status codes.
var (
	// ErrInvalidURL indicates the URL to capture is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrURLBlacklisted indicates the URL matches the blacklist.
	// Use errors.As with *BlacklistedError to read the reason.
	ErrURLBlacklisted = errors.New("url is blacklisted")

	// ErrAdmissionRefused indicates the tracker refused the caller.
	// Use errors.As with *AdmissionError to read the decision.
	ErrAdmissionRefused = errors.New("admission refused")

	// ErrNotOwner indicates the caller does not own the task it tries to cancel.
	ErrNotOwner = errors.New("task is not owned by caller")

	// ErrTaskNotFound indicates the farm knows no task with this id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrMissingTaskID indicates the farm accepted a task request without
	// returning its id.
	ErrMissingTaskID = errors.New("farm returned no task id")
)

// BlacklistedError carries the reason key of the matching blacklist entry.
type BlacklistedError struct {
	URL    string
	Reason string
}

func (e *BlacklistedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrURLBlacklisted, e.Reason)
}

func (e *BlacklistedError) Unwrap() error {
	return ErrURLBlacklisted
}

// AdmissionError carries a tracker decision that did not allow the request.
type AdmissionError struct {
	Decision tracker.Decision
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAdmissionRefused, e.Decision.Status)
}

func (e *AdmissionError) Unwrap() error {
	return ErrAdmissionRefused
}
