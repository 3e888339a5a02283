// Package fault defines the error taxonomy shared by the synchronization
// engine and its surrounding components. Every recoverable rejection carries
// a Code so transports can map it without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	// CodeNotFound indicates an unknown session or document.
	CodeNotFound Code = "NOT_FOUND"

	// CodeForbidden indicates the caller lacks the required permission.
	CodeForbidden Code = "FORBIDDEN"

	// CodeValidation indicates a malformed operation or request.
	CodeValidation Code = "VALIDATION"

	// CodeDependencyTimeout indicates an operation whose declared dependency
	// never resolved within the wait window.
	CodeDependencyTimeout Code = "DEPENDENCY_TIMEOUT"

	// CodeConsistencyFault indicates a checksum mismatch. It is fatal for the
	// affected document: content mutation halts until external reconciliation.
	CodeConsistencyFault Code = "CONSISTENCY_FAULT"
)

// Error is a coded error. All codes except CodeConsistencyFault are
// recoverable and reported inline per request or per batch item.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a coded error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// Forbidden creates a CodeForbidden error.
func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, format, args...)
}

// Validation creates a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// DependencyTimeout creates a CodeDependencyTimeout error.
func DependencyTimeout(format string, args ...any) *Error {
	return New(CodeDependencyTimeout, format, args...)
}

// ConsistencyFault creates a CodeConsistencyFault error.
func ConsistencyFault(format string, args ...any) *Error {
	return New(CodeConsistencyFault, format, args...)
}

// CodeOf returns the code of err, unwrapping as needed. It returns the empty
// code for nil or uncoded errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
