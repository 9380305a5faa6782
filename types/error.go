package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Interaction lifecycle error codes
const (
	ErrInteractionNotFound  ErrorCode = "INTERACTION_NOT_FOUND"
	ErrInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrInteractionTimeout   ErrorCode = "INTERACTION_TIMEOUT"
	ErrInteractionCancelled ErrorCode = "INTERACTION_CANCELLED"
	ErrEngineClosed         ErrorCode = "ENGINE_CLOSED"
)

// Admission control error codes
const (
	ErrRateLimitExceeded        ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrConcurrencyLimitExceeded ErrorCode = "CONCURRENCY_LIMIT_EXCEEDED"
)

// Configuration and collaborator error codes
const (
	ErrConfiguration       ErrorCode = "CONFIGURATION"
	ErrPersistenceDisabled ErrorCode = "PERSISTENCE_DISABLED"
	ErrPersistenceFailure  ErrorCode = "PERSISTENCE_FAILURE"
	ErrTransportFailure    ErrorCode = "TRANSPORT_FAILURE"
)

// API error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Field      string    `json:"field,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is match on the error code, so sentinel comparisons work
// across independently constructed instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithField records the field a validation error refers to.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
