package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRunning is returned for operations that need an idle session.
	ErrSessionRunning = errors.New("session is running")
	// ErrSessionNotRunning is returned for control operations on idle sessions.
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrSessionFinished is returned when starting a terminal session without reset.
	ErrSessionFinished = errors.New("session already finished")
	// ErrSessionExists is returned when creating a session with a duplicate id.
	ErrSessionExists = errors.New("session already exists")
	// ErrInsufficientCredits is returned when the estimate exceeds the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrValidation marks configuration rejected at session creation.
	ErrValidation = errors.New("validation error")
	// ErrCreditDepleted marks a session terminated by credit exhaustion.
	ErrCreditDepleted = errors.New("credit depleted")
	// ErrInternalScheduling marks an unexpected failure of the whole session.
	ErrInternalScheduling = errors.New("internal scheduling error")
)

// ValidationError describes why a session configuration was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}

	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CreditDepletedError reports the consumption at which the balance ran out.
// It is a planned termination path, not a failure.
type CreditDepletedError struct {
	Used    int
	Balance int
}

func (e *CreditDepletedError) Error() string {
	return fmt.Sprintf("credit depleted: used %d of %d", e.Used, e.Balance)
}

// Is makes errors.Is(err, ErrCreditDepleted) match.
func (e *CreditDepletedError) Is(target error) bool { return target == ErrCreditDepleted }

// InternalSchedulingError wraps the cause of a hard session failure.
type InternalSchedulingError struct {
	SessionID string
	Err       error
}

func (e *InternalSchedulingError) Error() string {
	return fmt.Sprintf("internal scheduling error in session %s: %v", e.SessionID, e.Err)
}

func (e *InternalSchedulingError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInternalScheduling) match.
func (e *InternalSchedulingError) Is(target error) bool { return target == ErrInternalScheduling }
