/*
errors.go - Centralized error taxonomy for the equity engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error falls into exactly one taxonomy class, and the API layer
  maps each class to a stable external code:

    ValidationError       -> 400  (malformed/out-of-range input, never retried)
    NotFound              -> 404  (missing pool/grant/employee/PPS row)
    InsufficientShares    -> 422  (business-rule rejection, not a fault)
    ConcurrencyConflict   -> 409  (serialization failure after retries)
    FatalInternal         -> 500  (invariant violation, programming defect)

USAGE:
  Callers classify with the helpers, not by string matching:

    if equity.IsInsufficientShares(err) { ... }

SEE ALSO:
  - service.go: Wraps storage conflicts and retries them
  - api/handlers.go: Maps classes to HTTP status codes
*/
package equity

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the class for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the class for missing or soft-deleted records.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientShares is returned when a grant or pool reduction
	// exceeds the pool's available capacity.
	ErrInsufficientShares = errors.New("insufficient shares available")

	// ErrConcurrencyConflict is returned when the storage engine detects a
	// serialization conflict. Retried automatically with a bounded count;
	// surfaced to the caller only after retries exhaust.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrVersionMismatch is the optimistic-lock failure on a grant update.
	// It classifies as a concurrency conflict.
	ErrVersionMismatch = fmt.Errorf("%w: grant version mismatch", ErrConcurrencyConflict)

	// ErrFatalInternal marks an invariant violation - a programming defect,
	// never silently swallowed.
	ErrFatalInternal = errors.New("internal invariant violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a specific bad input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Entity string // "pool", "grant", "employee", ...
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientSharesError reports a pool capacity shortfall.
type InsufficientSharesError struct {
	TenantID  TenantID
	Available Money
	Requested Money
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientSharesError) Unwrap() error { return ErrInsufficientShares }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

func IsValidation(err error) bool         { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsInsufficientShares(err error) bool { return errors.Is(err, ErrInsufficientShares) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConcurrencyConflict) }
func IsFatal(err error) bool              { return errors.Is(err, ErrFatalInternal) }

// IsRetryable returns true if re-running the whole transaction may succeed.
// Only serialization conflicts qualify; validation and business-rule
// rejections never do.
func IsRetryable(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }
