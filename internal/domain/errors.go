package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock means the requested quantity exceeds what is available.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrJobBusy means another worker currently holds the mass-mail job.
	ErrJobBusy = errors.New("mass mail job is already being processed")
	// ErrJobLockLost means the job lock expired while a batch was running and
	// the batch stopped early.
	ErrJobLockLost = errors.New("mass mail job lock was lost during the batch")
)

// ValidationError reports malformed input. Nothing has been written when it is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports that the addressed entity does not exist, or does not
// exist in the state the operation requires.
type NotFoundError struct {
	Resource string
	ID       int32
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PermissionError reports that the actor may not perform the action.
type PermissionError struct {
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("not permitted to %s", e.Action)
	}
	return fmt.Sprintf("not permitted to %s: %s", e.Action, e.Reason)
}

// TransientGatewayError wraps a failure of the outbound email provider.
type TransientGatewayError struct {
	Provider string
	Err      error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %v", e.Provider, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }
