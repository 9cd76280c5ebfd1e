package jira

import (
	"errors"
	"fmt"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

// Sentinel errors returned by Client implementations.
var (
	// ErrCohortNotFound indicates that the ticket has no usable cohort attachment.
	ErrCohortNotFound = errors.New("no cohort attachment found")

	// ErrMultipleCohorts indicates that the ticket has more than one candidate attachment.
	ErrMultipleCohorts = errors.New("more than one cohort attachment found")

	// ErrDecryption indicates that the attachment could not be decrypted or parsed.
	ErrDecryption = errors.New("cohort attachment could not be decrypted")

	// ErrCustomFieldNotFound indicates that no custom field matches the configured name.
	ErrCustomFieldNotFound = errors.New("custom field not found")

	// ErrTransitionNotFound indicates that the ticket offers no transition to the invalid status.
	ErrTransitionNotFound = errors.New("transition not found")
)

// CustomFieldNotFoundError names the field that could not be resolved on an issue.
type CustomFieldNotFoundError struct {
	IssueID   string
	FieldName string
}

// Error implements the error interface.
func (e *CustomFieldNotFoundError) Error() string {
	return fmt.Sprintf("custom field %s not part of the issue %s", e.FieldName, e.IssueID)
}

// Unwrap returns ErrCustomFieldNotFound.
func (e *CustomFieldNotFoundError) Unwrap() error {
	return ErrCustomFieldNotFound
}

// CohortErrorKind classifies a FetchCohort error.
func CohortErrorKind(err error) domain.RemoteCohortKind {
	switch {
	case errors.Is(err, ErrCohortNotFound):
		return domain.RemoteCohortNotFound
	case errors.Is(err, ErrMultipleCohorts):
		return domain.RemoteCohortMultiple
	case errors.Is(err, ErrDecryption):
		return domain.RemoteCohortDecryptionFailed
	default:
		return domain.RemoteCohortOther
	}
}
