package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation   = "VALIDATION"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL"
)

// Error is the single error type surfaced to HTTP clients. Message is safe to
// show to end users; Err keeps the underlying cause for logs.
type Error struct {
	Code    string
	Message string
	Status  int
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func New(code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, Status: status, Err: err}
}

func Validation(message string) *Error {
	return New(CodeValidation, message, http.StatusBadRequest, nil)
}

func NotFound(resource string, err error) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func Forbidden(message string, err error) *Error {
	return New(CodeForbidden, message, http.StatusForbidden, err)
}

func Conflict(message string, err error) *Error {
	return New(CodeConflict, message, http.StatusConflict, err)
}

func RateLimited(message string) *Error {
	return New(CodeRateLimited, message, http.StatusTooManyRequests, nil)
}

func Internal(message string, err error) *Error {
	return New(CodeInternal, message, http.StatusInternalServerError, err)
}

// Is reports whether err wraps an *Error with the given code.
func Is(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// From converts any error into an *Error, treating unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}
