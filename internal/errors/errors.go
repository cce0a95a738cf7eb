// Package errors is the service-wide error taxonomy. Every error that crosses
// a package boundary is an *AppError carrying a stable Code, so transports can
// map it to a status without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Code classifies an AppError.
type Code string

const (
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeUnauthorized      Code = "UNAUTHORIZED"
	ErrCodeForbidden         Code = "FORBIDDEN"
	ErrCodeNoApprovalRequest Code = "NO_APPROVAL_REQUEST"
	ErrCodeInternal          Code = "INTERNAL"
)

// AppError is a coded error with an optional wrapped cause.
type AppError struct {
	Code    Code
	Message string
	Field   string
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error { return e.cause }

// Cause returns the wrapped error, with its stack when it came through Wrap.
func (e *AppError) Cause() error { return e.cause }

// New creates an AppError without a cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, cause: pkgerrors.WithStack(err)}
}

// NotFound reports a missing resource of the given kind.
func NotFound(kind, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// NoApprovalRequest reports a response that has never been submitted into the workflow.
func NoApprovalRequest(responseID string) *AppError {
	return &AppError{
		Code:    ErrCodeNoApprovalRequest,
		Message: fmt.Sprintf("no approval request found for response %s", responseID),
	}
}

// Forbidden reports an actor that may not perform the operation.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// Conflict reports a state that does not allow the requested transition.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// From returns the outermost AppError in err's chain.
func From(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code to the HTTP status the handlers respond with.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNoApprovalRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
