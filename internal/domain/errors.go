package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Authentication Errors (AUTH_*)
	ErrorCodeAuthMissing ErrorCode = "AUTH_MISSING"
	ErrorCodeAuthInvalid ErrorCode = "AUTH_INVALID"

	// Validation Errors (VALIDATION_*) - malformed payload, terminal
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Event Errors (EVENT_*)
	ErrorCodeDuplicateEvent    ErrorCode = "EVENT_DUPLICATE"
	ErrorCodeEventNotFound     ErrorCode = "EVENT_NOT_FOUND"
	ErrorCodeEventInvalidState ErrorCode = "EVENT_INVALID_STATE"

	// Integration Errors (INTEGRATION_*)
	ErrorCodeIntegrationNotFound ErrorCode = "INTEGRATION_NOT_FOUND"

	// Matching Errors (MATCH_*) - retryable
	ErrorCodeNoCandidateFound    ErrorCode = "MATCH_NO_CANDIDATE"
	ErrorCodeAmbiguousCandidate  ErrorCode = "MATCH_AMBIGUOUS"
	ErrorCodeStructuralException ErrorCode = "MATCH_STRUCTURAL_EXCEPTION"

	// Queue Errors (QUEUE_*)
	ErrorCodeQueueItemNotFound ErrorCode = "QUEUE_ITEM_NOT_FOUND"
	ErrorCodeQueueInvalidState ErrorCode = "QUEUE_INVALID_STATE"
	ErrorCodeInvalidCandidate  ErrorCode = "QUEUE_INVALID_CANDIDATE"

	// Ledger Errors (LEDGER_*)
	ErrorCodeApplicationConflict ErrorCode = "LEDGER_APPLICATION_CONFLICT"
	ErrorCodeFeeAccountNotFound  ErrorCode = "LEDGER_FEE_ACCOUNT_NOT_FOUND"
	ErrorCodeInvoiceNotFound     ErrorCode = "LEDGER_INVOICE_NOT_FOUND"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code so sentinel values work with errors.Is
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeEventNotFound, ErrorCodeIntegrationNotFound, ErrorCodeQueueItemNotFound,
		ErrorCodeFeeAccountNotFound, ErrorCodeInvoiceNotFound:
		return true
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeValidationFailed, ErrorCodeValidationAmountInvalid, ErrorCodeValidationMissingField:
		return true
	}
	return false
}

// IsInvalidStateError reports whether the operation was refused because of the entity's current state
func IsInvalidStateError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeEventInvalidState, ErrorCodeQueueInvalidState, ErrorCodeInvalidCandidate:
		return true
	}
	return false
}

// IsRetryable reports whether the automatic retry scheduler may attempt the item again.
// Validation errors are terminal; matching and ledger conflicts are not.
func IsRetryable(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeNoCandidateFound, ErrorCodeAmbiguousCandidate,
		ErrorCodeStructuralException, ErrorCodeApplicationConflict:
		return true
	}
	return false
}

// IsAuthError checks if an error is authentication related
func IsAuthError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeAuthMissing || code == ErrorCodeAuthInvalid
}

// Structured error instances
var (
	ErrAuthMissing = NewDomainError(ErrorCodeAuthMissing, "authentication required")
	ErrAuthInvalid = NewDomainError(ErrorCodeAuthInvalid, "invalid authentication")

	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrDuplicateEvent    = NewDomainError(ErrorCodeDuplicateEvent, "event already recorded for this reference")
	ErrEventNotFound     = NewDomainError(ErrorCodeEventNotFound, "payment event not found")
	ErrEventInvalidState = NewDomainError(ErrorCodeEventInvalidState, "payment event is in invalid state for this operation")

	ErrIntegrationNotFound = NewDomainError(ErrorCodeIntegrationNotFound, "provider integration not found")

	ErrNoCandidateFound    = NewDomainError(ErrorCodeNoCandidateFound, "no candidate found")
	ErrAmbiguousCandidate  = NewDomainError(ErrorCodeAmbiguousCandidate, "ambiguous candidate")
	ErrStructuralException = NewDomainError(ErrorCodeStructuralException, "structural exception")

	ErrQueueItemNotFound = NewDomainError(ErrorCodeQueueItemNotFound, "queue item not found")
	ErrQueueInvalidState = NewDomainError(ErrorCodeQueueInvalidState, "queue item is in invalid state for this operation")
	ErrInvalidCandidate  = NewDomainError(ErrorCodeInvalidCandidate, "candidate selection is not valid for this item")

	ErrApplicationConflict = NewDomainError(ErrorCodeApplicationConflict, "concurrent ledger update")
	ErrFeeAccountNotFound  = NewDomainError(ErrorCodeFeeAccountNotFound, "fee account not found")
	ErrInvoiceNotFound     = NewDomainError(ErrorCodeInvoiceNotFound, "invoice not found")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
