package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation     ErrorCategory = "validation"       // Invalid input
	ErrCatUnavailable    ErrorCategory = "unavailable"      // No live worker under that name
	ErrCatCrashed        ErrorCategory = "crashed"          // Worker process failed liveness
	ErrCatBusy           ErrorCategory = "busy"             // Explicit backpressure
	ErrCatModuleNotFound ErrorCategory = "module_not_found" // Unknown worker entry point
	ErrCatTimeout        ErrorCategory = "timeout"          // Correlated call timed out
	ErrCatChannelClosed  ErrorCategory = "channel_closed"   // Peer closed its end
	ErrCatNotFound       ErrorCategory = "not_found"        // Resource not found
	ErrCatInternal       ErrorCategory = "internal"         // Unexpected internal error
)

// DomainError represents a structured error from the substrate.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrWorkerUnavailable reports that no live process serves a worker name.
// The supervisor recovers from it by retrying and respawning.
func ErrWorkerUnavailable(worker string) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      CodeWorkerUnavailable,
		Message:   fmt.Sprintf("no available worker for %s", worker),
		Retryable: true,
		Details:   map[string]interface{}{"worker": worker},
	}
}

// ErrWorkerCrashed reports a worker process that failed its liveness check.
func ErrWorkerCrashed(worker string, pid int) *DomainError {
	return &DomainError{
		Category:  ErrCatCrashed,
		Code:      CodeWorkerCrashed,
		Message:   fmt.Sprintf("worker %s (%d) is not alive", worker, pid),
		Retryable: true,
		Details: map[string]interface{}{
			"worker": worker,
			"pid":    pid,
		},
	}
}

// ErrWorkerBusy reports explicit backpressure from a saturated worker.
// It is never retried by the substrate.
func ErrWorkerBusy(worker string) *DomainError {
	return &DomainError{
		Category:  ErrCatBusy,
		Code:      CodeServerBusy,
		Message:   fmt.Sprintf("worker %s is busy", worker),
		Retryable: false,
	}
}

// ErrModuleNotFound reports a worker name with no registered entry point.
func ErrModuleNotFound(worker string) *DomainError {
	return &DomainError{
		Category:  ErrCatModuleNotFound,
		Code:      CodeModuleNotFound,
		Message:   fmt.Sprintf("worker module not found: %s", worker),
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrChannelClosed reports that the peer end of a channel has gone away.
func ErrChannelClosed(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatChannelClosed,
		Code:      CodeChannelClosed,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeWorkerUnavailable = "WORKER_UNAVAILABLE"
	CodeWorkerCrashed     = "WORKER_CRASHED"
	CodeServerBusy        = "SERVER_BUSY"
	CodeModuleNotFound    = "MODULE_NOT_FOUND"
	CodeTimeout           = "TIMEOUT"
	CodeChannelClosed     = "CHANNEL_CLOSED"
	CodeUnknownMethod     = "UNKNOWN_METHOD"
	CodeNotFound          = "NOT_FOUND"

	// Validation error codes
	CodeInvalidCount  = "INVALID_COUNT"
	CodeInvalidRoute  = "INVALID_ROUTE"
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeEmptyName     = "EMPTY_WORKER_NAME"
	CodeBadPayload    = "BAD_PAYLOAD"
	CodeDuplicatePID  = "DUPLICATE_PID"
)
