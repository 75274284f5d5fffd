package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Graph validation error codes
const (
	ErrValidation    ErrorCode = "VALIDATION"
	ErrCyclicGraph   ErrorCode = "CYCLIC_GRAPH"
	ErrDanglingEdge  ErrorCode = "DANGLING_EDGE"
	ErrDuplicateNode ErrorCode = "DUPLICATE_NODE"
	ErrEmptyGraph    ErrorCode = "EMPTY_GRAPH"
)

// Run lifecycle error codes
const (
	ErrAlreadyRunning    ErrorCode = "ALREADY_RUNNING"
	ErrNoActiveRun       ErrorCode = "NO_ACTIVE_RUN"
	ErrNodeExecution     ErrorCode = "NODE_EXECUTION"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrRunCancelled      ErrorCode = "RUN_CANCELLED"
)

// Event stream error codes
const (
	ErrStreamDisconnected ErrorCode = "STREAM_DISCONNECTED"
	ErrStreamClosed       ErrorCode = "STREAM_CLOSED"
	ErrUnknownEvent       ErrorCode = "UNKNOWN_EVENT"
)

// Storage and configuration error codes
const (
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	NodeID     string    `json:"node_id,omitempty"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from anywhere in err's wrap chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
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

// WithNodeID attaches the node the error originated from.
func (e *Error) WithNodeID(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
