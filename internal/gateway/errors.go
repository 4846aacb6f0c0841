package gateway

import (
	"errors"
	"fmt"
)

// ErrorCode classifies gateway failures so callers can decide whether an
// operation should abort, retry, or record a per-target outcome and move on.
type ErrorCode string

const (
	// ErrCodeConnection indicates network or websocket-level failures.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeAuthentication indicates the bot token was rejected.
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"

	// ErrCodePermission indicates the bot lacks permission for the operation.
	ErrCodePermission ErrorCode = "PERMISSION_ERROR"

	// ErrCodeRateLimit indicates the platform throttled the operation.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"

	// ErrCodeNotFound indicates the member, channel, or role does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidInput indicates invalid request data.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeTimeout indicates an operation timed out or was cancelled.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"

	// ErrCodeUnavailable indicates the gateway is not connected.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// ErrCodeConfig indicates a configuration error.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured gateway error with a code for classification and the
// underlying cause preserved for errors.Is / errors.As.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error represents a transient failure.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable, ErrCodeConnection:
		return true
	default:
		return false
	}
}

// NewError creates an Error with the given code, message, and cause.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrConnection creates a connection error.
func ErrConnection(message string, err error) *Error {
	return NewError(ErrCodeConnection, message, err)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string, err error) *Error {
	return NewError(ErrCodeAuthentication, message, err)
}

// ErrPermission creates a permission error.
func ErrPermission(message string, err error) *Error {
	return NewError(ErrCodePermission, message, err)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string, err error) *Error {
	return NewError(ErrCodeRateLimit, message, err)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string, err error) *Error {
	return NewError(ErrCodeNotFound, message, err)
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string, err error) *Error {
	return NewError(ErrCodeInvalidInput, message, err)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string, err error) *Error {
	return NewError(ErrCodeTimeout, message, err)
}

// ErrUnavailable creates a service unavailable error.
func ErrUnavailable(message string, err error) *Error {
	return NewError(ErrCodeUnavailable, message, err)
}

// ErrConfig creates a configuration error.
func ErrConfig(message string, err error) *Error {
	return NewError(ErrCodeConfig, message, err)
}

// ErrInternal creates an internal error.
func ErrInternal(message string, err error) *Error {
	return NewError(ErrCodeInternal, message, err)
}

// GetErrorCode extracts the ErrorCode from an error if it is a gateway Error,
// otherwise returns ErrCodeInternal.
func GetErrorCode(err error) ErrorCode {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether the error classifies a missing platform object.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrCodeNotFound
}

// IsRetryable reports whether the error is a retryable gateway error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.IsRetryable()
	}
	return false
}
