package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrNotAllowed indicates that the caller does not own the entity.
	ErrNotAllowed = errors.New("not allowed")

	// ErrAlreadyCancelled indicates that a request was cancelled before.
	ErrAlreadyCancelled = errors.New("already cancelled")

	// ErrDuplicate indicates that an entity with the same id already exists.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRemoteCohort indicates that the cohort of a ticket could not be obtained.
	ErrRemoteCohort = errors.New("remote cohort failure")

	// ErrRemoteCall indicates that a call to the ticketing system failed.
	ErrRemoteCall = errors.New("remote call failure")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DuplicateError provides details about a duplicate entity.
type DuplicateError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// RemoteCohortKind classifies why a cohort could not be obtained.
type RemoteCohortKind string

const (
	RemoteCohortNotFound         RemoteCohortKind = "not_found"
	RemoteCohortMultiple         RemoteCohortKind = "multiple_candidates"
	RemoteCohortDecryptionFailed RemoteCohortKind = "decryption_failed"
	RemoteCohortOther            RemoteCohortKind = "other"
)

// RemoteCohortError wraps a failure to fetch or decode a ticket's cohort.
type RemoteCohortError struct {
	IssueID string
	Kind    RemoteCohortKind
	Cause   error
}

// Error implements the error interface.
func (e *RemoteCohortError) Error() string {
	return fmt.Sprintf("cohort of %s unavailable (%s): %v", e.IssueID, e.Kind, e.Cause)
}

// Unwrap exposes both ErrRemoteCohort and the cause.
func (e *RemoteCohortError) Unwrap() []error {
	return []error{ErrRemoteCohort, e.Cause}
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s API error: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap exposes both ErrRemoteCall and the cause.
func (e *ExternalAPIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRemoteCall}
	}
	return []error{ErrRemoteCall, e.Cause}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewDuplicateError creates a new DuplicateError.
func NewDuplicateError(entity, id string) *DuplicateError {
	return &DuplicateError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRemoteCohortError creates a new RemoteCohortError.
func NewRemoteCohortError(issueID string, kind RemoteCohortKind, cause error) *RemoteCohortError {
	return &RemoteCohortError{
		IssueID: issueID,
		Kind:    kind,
		Cause:   cause,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}
