package models

import (
	"errors"
	"fmt"
)

// Entity-level invariant violations. Callers translate these into HTTP
// statuses at the boundary; entities only report what rule was broken.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCannotRetry       = errors.New("execution cannot be retried")
	ErrCannotCancel      = errors.New("execution cannot be cancelled")
	ErrInvalidProgress   = errors.New("progress must be between 0 and 100")
)

// TransitionError wraps a state machine violation with the attempted
// operation and the state it was attempted from.
type TransitionError struct {
	Op    string
	State string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed from status %q: %v", e.Op, e.State, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTransitionError creates a transition error with context.
func NewTransitionError(op, state string, err error) *TransitionError {
	return &TransitionError{Op: op, State: state, Err: err}
}
