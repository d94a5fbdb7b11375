/**
 * @description
 * Sentinel errors for the workflow layer. Services return these (usually
 * wrapped with fmt.Errorf and %w) and the API layer maps them to HTTP
 * status codes with errors.Is, so no business rule ever leaks a stack
 * trace or a driver error to a client.
 */

package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation covers malformed or out-of-range input. Wrap with
	// *ValidationError when per-field detail is available.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState means the entity's current status forbids the
	// requested operation (e.g. reviewing a paid demande).
	ErrInvalidState = errors.New("operation not allowed in current status")

	// ErrInvalidTransition means the requested target status is not
	// reachable from the current one.
	ErrInvalidTransition = errors.New("illegal status transition")

	// ErrPoolNotActive means funds were requested from a pool that is
	// not in the active status.
	ErrPoolNotActive = errors.New("budget pool is not active")

	// ErrAuthentication means the caller's credentials are wrong or the
	// account cannot sign in.
	ErrAuthentication = errors.New("invalid credentials")

	// ErrAuthorization means the actor's role or ownership does not
	// permit the operation.
	ErrAuthorization = errors.New("not allowed to perform this operation")

	// ErrRetryNotDue means a failed payment was retried before its
	// backoff window elapsed.
	ErrRetryNotDue = errors.New("retry not due yet")

	// ErrRetriesExhausted means retry_count has reached max_retries and
	// the payment can never be retried again.
	ErrRetriesExhausted = errors.New("retry limit reached")

	// ErrDependency means an external system (queue, gateway, disk)
	// failed. It is the only family that maps to a 5xx response.
	ErrDependency = errors.New("dependency failure")
)

// ValidationError carries per-field messages for a rejected input. It
// unwraps to ErrValidation so callers can match the whole family with a
// single errors.Is check.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a single-field validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}
