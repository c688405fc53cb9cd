package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ValidationError reports malformed input. Nothing was mutated.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + " " + e.Msg
}

// ConflictError reports an operation that is invalid for the job's current status.
type ConflictError struct {
	JobID  string
	Status JobStatus
	Op     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status '%s'", e.Op, e.JobID, e.Status)
}

// ProviderError reports a failed call to the transmission provider.
type ProviderError struct {
	Op         string
	HTTPStatus int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("provider %s failed: %d %v", e.Op, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AuthenticationError rejects a webhook whose signature is missing, stale or invalid.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return "webhook authentication failed: " + e.Reason }
