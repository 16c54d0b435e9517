package apperr

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the core
const (
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeStateConflict   = "STATE_CONFLICT"
	CodeProviderFailure = "PROVIDER_FAILURE"
	CodeTimeout         = "TIMEOUT"
	CodeConfigMissing   = "CONFIG_MISSING"
	CodeValidation      = "VALIDATION_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error is a coded application error
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Error constructors

func NotFound(resource string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func Unauthorized() error {
	return &Error{Code: CodeUnauthorized, Message: "authentication required"}
}

func QuotaExceeded(msg string) error {
	return &Error{Code: CodeQuotaExceeded, Message: msg}
}

func StateConflict(msg string) error {
	return &Error{Code: CodeStateConflict, Message: msg}
}

func ProviderFailure(msg string, retryable bool, err error) error {
	return &Error{Code: CodeProviderFailure, Message: msg, Retryable: retryable, Err: err}
}

func Timeout(msg string, err error) error {
	return &Error{Code: CodeTimeout, Message: msg, Retryable: true, Err: err}
}

func ConfigMissing(key string) error {
	return &Error{Code: CodeConfigMissing, Message: fmt.Sprintf("required configuration %s is missing", key)}
}

func Validation(msg string) error {
	return &Error{Code: CodeValidation, Message: msg}
}

func Internal(err error) error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// Code extracts the code from an error chain, CodeInternal if untagged
func Code(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the error is tagged retryable
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// Is reports whether the error carries the given code
func Is(err error, code string) bool {
	return Code(err) == code
}

// HTTPStatus maps an error code to a response status.
// Unknown codes map to 500; detail is never exposed across the boundary.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeQuotaExceeded:
		return 403
	case CodeStateConflict:
		return 409
	case CodeValidation:
		return 400
	default:
		return 500
	}
}
