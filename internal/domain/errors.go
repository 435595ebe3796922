package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate marks an insert that hit an existing id. It is informational.
	ErrDuplicate = errors.New("duplicate opportunity")
	// ErrNotFound is returned when an id is absent from the store.
	ErrNotFound = errors.New("opportunity not found")
	// ErrInvalidTransition matches any *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBackendUnavailable makes the drafting worker advance to the next backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrGenerationTimeout is retried with backoff on the same backend.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrGenerationEmpty is retried with backoff on the same backend.
	ErrGenerationEmpty = errors.New("generation returned empty text")
	// ErrBackendsExhausted means every candidate backend failed.
	ErrBackendsExhausted = errors.New("all backends exhausted")
	// ErrNotificationFailure is logged and never blocks a batch.
	ErrNotificationFailure = errors.New("notification failed")
	// ErrStore wraps persistence failures that must abort a batch.
	ErrStore = errors.New("store failure")
	// ErrIgnored is returned when the policy decides to skip an opportunity.
	ErrIgnored = errors.New("opportunity ignored by policy")
	// ErrRunInProgress is returned when another batch holds the run lock.
	ErrRunInProgress = errors.New("batch already running")
)

// ValidationError describes a malformed signal. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Reason)
}

// InvalidTransitionError names the rejected status move.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("opportunity %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryableGeneration reports whether a generation error may succeed on retry.
func IsRetryableGeneration(err error) bool {
	return errors.Is(err, ErrGenerationTimeout) || errors.Is(err, ErrGenerationEmpty)
}
