package core

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable machine-readable error code carried by every
// Error value and surfaced in API responses.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	CodeTokenInvalid ErrorCode = "TOKEN_INVALID"
	CodeRateLimited  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeTransient    ErrorCode = "TRANSIENT"
	CodePermanent    ErrorCode = "PERMANENT"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is the domain error type. Code drives retry decisions in workers
// and HTTP status mapping in the API layer.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a domain error with an optional wrapped cause.
func NewError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

// WithDetail attaches a key/value to the error's detail map.
func (e *Error) WithDetail(k string, v interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[k] = v
	return e
}

// Sentinels used across packages. Cross-tenant reads always surface
// ErrNotFound so callers cannot probe for resource existence.
var (
	ErrNotFound    = &Error{Code: CodeNotFound, Message: "resource not found"}
	ErrConflict    = &Error{Code: CodeConflict, Message: "conflict"}
	ErrUnsupported = &Error{Code: CodePermanent, Message: "operation not supported on this platform"}
)

// Transient wraps err as a retryable failure.
func Transient(msg string, err error) *Error {
	return NewError(CodeTransient, msg, err)
}

// Permanent wraps err as a non-retryable failure.
func Permanent(msg string, err error) *Error {
	return NewError(CodePermanent, msg, err)
}

// IsTransient reports whether err should be retried by a queue worker.
func IsTransient(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == CodeTransient
	}
	return false
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
