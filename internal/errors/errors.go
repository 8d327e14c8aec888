package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type used across ragsync.
type Error struct {
	// Code is the unique error code (e.g. "ERR_301_RETRIEVAL_FAILED").
	Code string

	// Kind is derived from Code.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details carries additional context such as the source identifier.
	Details map[string]string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so errors.Is works with sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an Error with the given code, message and cause.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Kind:    kindFromCode(code),
		Message: message,
		Cause:   cause,
	}
}

// ConfigError reports missing or invalid configuration.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// LoadError reports a source that could not be fetched or parsed.
func LoadError(message string, cause error) *Error {
	return New(ErrCodeLoadFailed, message, cause)
}

// RetrievalError reports a failed index query.
func RetrievalError(message string, cause error) *Error {
	return New(ErrCodeRetrievalFailed, message, cause)
}

// ValidationError reports a malformed incoming request.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// IngestError reports a failure writing a source into the index.
func IngestError(message string, cause error) *Error {
	return New(ErrCodeIngestFailed, message, cause)
}

// InternalError reports an unexpected failure.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the code of the first *Error in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
