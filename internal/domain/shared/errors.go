// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")

	// State errors
	ErrAlreadyCompleted = errors.New("already completed")
	ErrConflict         = errors.New("conflict")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Integrity errors. These signal data corruption and must never be swallowed.
	ErrInvariantViolation = errors.New("invariant violation")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "task", "submission", "ledger"
	Op      string // Operation that failed, e.g., "Submit", "Review"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Task domain errors
var (
	ErrTaskNotFound       = NewDomainError("task", "Find", ErrNotFound, "task not found")
	ErrTaskHasSubmissions = NewDomainError("task", "Delete", ErrConflict, "task has submissions and cannot be deleted")
	ErrInvalidTaskType    = NewDomainError("task", "Validate", ErrValidation, "invalid task type")
	ErrInvalidRules       = NewDomainError("task", "Validate", ErrValidation, "invalid verification rules")
	ErrNotTaskOwner       = NewDomainError("task", "Authorize", ErrForbidden, "only the task owner or an admin can modify this task")
)

// Submission domain errors
var (
	ErrSubmissionNotFound        = NewDomainError("submission", "Find", ErrNotFound, "submission not found")
	ErrTaskAlreadyCompleted      = NewDomainError("submission", "Submit", ErrAlreadyCompleted, "task already completed")
	ErrSubmissionAlreadyReviewed = NewDomainError("submission", "Review", ErrConflict, "submission already approved")
	ErrInvalidReviewStatus       = NewDomainError("submission", "Review", ErrValidation, "review status must be approved or rejected")
	ErrReviewerRoleRequired      = NewDomainError("submission", "Review", ErrForbidden, "only instructors and admins can review submissions")
)

// Ledger domain errors
var (
	ErrUserNotFound          = NewDomainError("ledger", "LockAccount", ErrNotFound, "user not found")
	ErrZeroAmount            = NewDomainError("ledger", "Award", ErrValidation, "xp amount must not be zero")
	ErrLedgerBalanceMismatch = NewDomainError("ledger", "Award", ErrInvariantViolation, "cached xp total does not match ledger balance")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue)
}

// IsForbidden checks if the error is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInvariantViolation checks if the error reports corrupted accounting state.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
