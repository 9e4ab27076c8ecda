// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard store error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates no execution exists for the identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrJobNotFound indicates no job status exists for the job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrWebhookNotFound indicates no active webhook exists for the uuid.
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrWorkflowNotFound indicates no workflow exists for the identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrDuplicateJob indicates a job already exists for the execution.
	// Dispatch is deduplicated per execution by a unique key.
	ErrDuplicateJob = errors.New("job already exists for execution")
)

// StoreError wraps store failures with the operation and the key involved.
type StoreError struct {
	Op  string // Operation being performed (e.g. "JobByID", "UpdateExecution")
	Key string // Identifier involved, if any
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a store error with context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsNotFound checks whether an error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrWebhookNotFound) ||
		errors.Is(err, ErrWorkflowNotFound)
}
