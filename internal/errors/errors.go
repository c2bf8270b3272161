// Package errors provides structured error types for the pipeline.
// All errors include a category, code, message, and fatality flag for
// consistent error handling across jobs.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryIntegrity  ErrorCategory = "INTEGRITY"
	ErrCategoryCompaction ErrorCategory = "COMPACTION"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Storage codes
	CodeListFailed     = "LIST_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Query codes
	CodeExecuteFailed     = "EXECUTE_FAILED"
	CodeTransactionFailed = "TRANSACTION_FAILED"
	CodeConnectFailed     = "CONNECT_FAILED"

	// Integrity codes
	CodeNoSourceData   = "NO_SOURCE_DATA"
	CodeNoReferenceDay = "NO_REFERENCE_DAY"

	// Compaction codes
	CodeCompactFailed = "COMPACT_FAILED"

	// Validation codes
	CodeInvalidDay    = "INVALID_DAY"
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the pipeline.
type PipelineError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	// Fatal indicates the enclosing run cannot continue. Compaction
	// failures are the one non-fatal case: committed data is already
	// correct and storage reclaim is an optimization.
	Fatal bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
		Fatal:    isFatal(category),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
		Fatal:    isFatal(category),
	}
}

// IsFatal checks whether an error (or its chain) aborts the run.
// Unrecognized errors are treated as fatal.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return true
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

func isFatal(category ErrorCategory) bool {
	return category != ErrCategoryCompaction
}

// Convenience constructors for common errors.

// NewStorageUnavailable reports a failed object-storage listing or read.
// The core never retries these; re-invocation is the recovery mechanism.
func NewStorageUnavailable(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

// NewQueryError reports a failed SQL statement. Always fatal to the
// enclosing transaction.
func NewQueryError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryQuery, CodeExecuteFailed, message, cause)
}

// NewIntegrityError reports a violated data-integrity assumption, raised
// before any transaction is opened where possible.
func NewIntegrityError(code, message string) *PipelineError {
	return New(ErrCategoryIntegrity, code, message)
}

// NewCompactionFailure reports a failed storage-reclaim pass. Non-fatal:
// the caller logs it and continues with sibling tables.
func NewCompactionFailure(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryCompaction, CodeCompactFailed, message, cause)
}

func NewValidationError(code, message string) *PipelineError {
	return New(ErrCategoryValidation, code, message)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
