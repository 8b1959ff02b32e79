package shared

import (
	"errors"
	"fmt"
)

// Error codes shared by the publish pipeline and the maintenance routines
const (
	CodeConnectivity         = "CONNECTIVITY"
	CodeLockTimeout          = "LOCK_TIMEOUT"
	CodeSchemaMismatch       = "SCHEMA_MISMATCH"
	CodeDataValidation       = "DATA_VALIDATION"
	CodeDuplicateKeyConflict = "DUPLICATE_KEY_CONFLICT"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so callers can write
// errors.Is(err, shared.ErrLockTimeout) regardless of message or cause.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a domain error with the given code wrapping err
func Wrap(code string, err error, format string, args ...any) *DomainError {
	return &DomainError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Common domain errors
var (
	ErrConnectivity         = NewDomainError(CodeConnectivity, "database unavailable")
	ErrLockTimeout          = NewDomainError(CodeLockTimeout, "table lock not acquired")
	ErrSchemaMismatch       = NewDomainError(CodeSchemaMismatch, "destination schema does not match target")
	ErrDataValidation       = NewDomainError(CodeDataValidation, "row failed validation")
	ErrDuplicateKeyConflict = NewDomainError(CodeDuplicateKeyConflict, "primary key already exists with different content")
)

// CodeOf returns the code of the first DomainError in err's chain, or "" when none
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether err is transient: connectivity loss or lock contention
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConnectivity, CodeLockTimeout:
		return true
	default:
		return false
	}
}
