package gateway

import (
	"errors"
	"strings"
)

var (
	// ErrMethodNotAllowed indicates the webhook does not accept the HTTP
	// method used.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrUnauthorized indicates the call failed the webhook's auth check.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the caller exhausted the webhook's window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidPayload indicates the body failed the webhook's schema.
	ErrInvalidPayload = errors.New("invalid payload")
)

// PayloadError carries the individual schema violations for the response.
type PayloadError struct {
	Violations []string
}

func (e *PayloadError) Error() string {
	return "invalid payload: " + strings.Join(e.Violations, "; ")
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}
