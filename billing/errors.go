/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Errors carry enough context (field, expected vs. actual) for the caller to
  build a user-facing message. The engine itself never formats user-facing
  text or logs.

ERROR CATEGORIES:
  1. Validation errors - malformed or out-of-range input
  2. Transition errors - illegal lifecycle transitions
  3. Not found errors  - referenced community/unit/expense absent
  4. Store errors      - conflicts detected by persistence

USAGE:
  var verr *billing.ValidationError
  if errors.As(err, &verr) {
      // verr.Field, verr.Expected, verr.Actual
  }
  if billing.IsNotFound(err) { ... }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the sentinel behind every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is the sentinel behind every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is the sentinel behind every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePeriod is returned when a community already has a common
	// expense for the requested period.
	ErrDuplicatePeriod = errors.New("common expense already exists for period")

	// ErrDuplicateIdempotencyKey is returned when a payment with the same
	// idempotency key was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field    string
	Expected string
	Actual   string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Expected == "" && e.Actual == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s (expected %s, got %s)", e.Field, e.Message, e.Expected, e.Actual)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationError(field, message, expected, actual string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Expected: expected, Actual: actual}
}

// InvalidTransitionError reports a lifecycle transition the state machine
// does not allow.
type InvalidTransitionError struct {
	ID   UnitExpenseID
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("unit expense %s: cannot transition from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError is returned by stores when a referenced record is absent.
type NotFoundError struct {
	Kind string // "community", "unit", "category", "common expense", "unit expense"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
