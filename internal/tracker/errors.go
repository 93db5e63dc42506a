package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrConsistency is the root of every registry invariant violation.
	// It indicates a bug, never a caller mistake.
	ErrConsistency = errors.New("tracker registry consistency violation")

	// ErrTaskNotFound is returned by a StatusLookup when no location knows the task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptyKey is returned when an IdentityCodec is built without a signing key.
	ErrEmptyKey = errors.New("identity signing key cannot be empty")
)

// ConsistencyError describes a registry invariant violation.
type ConsistencyError struct {
	// Reason is a short description of the violated invariant.
	Reason string
	// Key is the identity or IP address involved, shortened for identities.
	Key string
}

// Error implements error.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConsistency.Error(), e.Reason, e.Key)
}

// Unwrap allows errors.Is(err, ErrConsistency).
func (e *ConsistencyError) Unwrap() error {
	return ErrConsistency
}

func duplicateIdentityError(identity string) error {
	return &ConsistencyError{Reason: "too many records for one single unique id", Key: shortIdentity(identity)}
}

func duplicateIPError(ip string) error {
	return &ConsistencyError{Reason: "too many records for one single ip address", Key: ip}
}

// shortIdentity keeps logs and errors free of full bearer tokens.
func shortIdentity(identity string) string {
	const keep = 8
	if len(identity) <= keep {
		return identity
	}
	return identity[:keep] + "..."
}
