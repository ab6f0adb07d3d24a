package errors

import "fmt"

// ErrorCode represents a pipeline error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrTransport      ErrorCode = "TRANSPORT"       // 502: network/HTTP failure talking to a provider
	ErrContent        ErrorCode = "CONTENT"         // 502: provider payload failed to parse or validate
	ErrTimeout        ErrorCode = "TIMEOUT"         // 504: provider-side processing exceeded its deadline
	ErrStorage        ErrorCode = "STORAGE"         // 500: best-effort file or DB cleanup failure
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// PipelineError represents a structured error with code, status, and details.
type PipelineError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing chunk, batch, or card.
func NewNotFound(identifier string) *PipelineError {
	return &PipelineError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConflict creates a 409 error for optimistic-update conflicts
// (e.g. a batch already claimed by another run).
func NewConflict(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewTransport wraps a network or HTTP-level provider failure.
func NewTransport(err error) *PipelineError {
	msg := "transport error"
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{
		Code:    ErrTransport,
		Status:  502,
		Message: msg,
	}
}

// NewContent creates an error for a provider payload that failed to
// parse or validate. Treated the same as transport failure downstream.
func NewContent(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrContent,
		Status:  502,
		Message: msg,
	}
}

// NewTimeout creates an error for a provider-side deadline expiry.
// Kept distinct from remote failure so callers can tell the two apart.
func NewTimeout(operation string, seconds int) *PipelineError {
	return &PipelineError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("%s timed out after %ds", operation, seconds),
		Details: map[string]any{"operation": operation, "timeout_seconds": seconds},
	}
}

// NewStorage wraps a file-system or cleanup failure. Callers log and
// swallow these; the constructor exists for audit rows and tests.
func NewStorage(err error) *PipelineError {
	msg := "storage error"
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{
		Code:    ErrStorage,
		Status:  500,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *PipelineError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a PipelineError with the given code.
func Is(err error, code ErrorCode) bool {
	if pErr, ok := err.(*PipelineError); ok {
		return pErr.Code == code
	}
	return false
}
