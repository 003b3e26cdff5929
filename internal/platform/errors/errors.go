// Package errors defines the typed error model shared by all layers of the
// leave service. Every error that crosses a service boundary carries a code;
// validation failures additionally carry a machine-readable reason that the
// portal frontend maps to user-facing messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and caller branching.
type Code string

const (
	CodeNotFound   Code = "NOT_FOUND"
	CodeForbidden  Code = "FORBIDDEN"
	CodeValidation Code = "VALIDATION"
	CodeConflict   Code = "CONFLICT"
	CodeInternal   Code = "INTERNAL"
)

// Reason is a stable sub-code for validation failures.
type Reason string

const (
	ReasonInsufficientLeaveBalance  Reason = "InsufficientLeaveBalance"
	ReasonOnDemandLimitExceeded     Reason = "OnDemandLimitExceeded"
	ReasonQuizFailed                Reason = "QuizFailed"
	ReasonCancellationWindowClosed  Reason = "CancellationWindowClosed"
	ReasonInvalidStatusTransition   Reason = "InvalidStatusTransition"
	ReasonDocumentationRequired     Reason = "DocumentationRequired"
	ReasonCategoryLimitExceeded     Reason = "CategoryLimitExceeded"
	ReasonConflictingSchedule       Reason = "ConflictingSchedule"
	ReasonInvalidInput              Reason = "InvalidInput"
)

// Error is the service-wide error type.
type Error struct {
	Code    Code
	Reason  Reason
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing entity.
func NotFound(entityType, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entityType, id)}
}

// Forbidden reports an actor acting outside their authority.
func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

// Validation reports a business-rule failure with a stable reason.
func Validation(reason Reason, message string) *Error {
	return &Error{Code: CodeValidation, Reason: reason, Message: message}
}

// InvalidInput reports a malformed field on an incoming request.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Reason:  ReasonInvalidInput,
		Message: fmt.Sprintf("%s: %s", field, message),
	}
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf extracts the validation reason from an error chain, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to its transport status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
