package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"

	// Provider errors
	ErrCodeProviderAPI           ErrorCode = "PROVIDER_API"
	ErrCodeUnsupportedCapability ErrorCode = "UNSUPPORTED_CAPABILITY"

	// Validation errors
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// Pipeline errors
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodePolicyRejected ErrorCode = "POLICY_REJECTED"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
)

// ErrNotImplemented is the sentinel the base adapter fails every operation
// with, so a provider only has to override what it supports and
// misconfiguration stays visible instead of becoming a silent no-op.
var ErrNotImplemented = New(ErrCodeUnsupportedCapability, "operation not implemented by this provider")

// AppError represents a structured application error
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// IsNotFound reports whether the error is a not-found condition. Not-found
// is always recoverable at the webhook boundary: it maps to a logged
// success:false result, never a non-2xx response.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeNotFound
}

// IsUnsupported reports whether the error is an unimplemented-capability
// failure from the base adapter.
func IsUnsupported(err error) bool {
	return GetCode(err) == ErrCodeUnsupportedCapability
}
