package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Quill error code.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"       // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"             // 404
	ErrTextTooLong          ErrorCode = "TEXT_TOO_LONG"         // 413
	ErrNoSelection          ErrorCode = "NO_SELECTION"          // 422
	ErrTextTooShort         ErrorCode = "TEXT_TOO_SHORT"        // 422
	ErrConfirmationRequired ErrorCode = "CONFIRMATION_REQUIRED" // 428
	ErrCancelled            ErrorCode = "CANCELLED"             // 499
	ErrInternal             ErrorCode = "INTERNAL"              // 500
	ErrModelFailed          ErrorCode = "MODEL_FAILED"          // 502
	ErrUnreachable          ErrorCode = "UNREACHABLE"           // 503
)

// QuillError represents a structured error with code, status, and details.
type QuillError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *QuillError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *QuillError {
	return &QuillError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a note cannot be found.
func NewNotFound(id string) *QuillError {
	return &QuillError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("note not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewNoSelection creates a 422 error when nothing is selected.
func NewNoSelection() *QuillError {
	return &QuillError{
		Code:    ErrNoSelection,
		Status:  422,
		Message: "no text selected",
	}
}

// NewTextTooShort creates a 422 error when the selection is under the minimum length.
func NewTextTooShort(min, actual int) *QuillError {
	return &QuillError{
		Code:    ErrTextTooShort,
		Status:  422,
		Message: fmt.Sprintf("text too short: %d chars (min %d)", actual, min),
		Details: map[string]any{"min_chars": min, "actual_chars": actual},
	}
}

// NewTextTooLong creates a 413 error when the selection exceeds the maximum length.
func NewTextTooLong(max, actual int) *QuillError {
	return &QuillError{
		Code:    ErrTextTooLong,
		Status:  413,
		Message: fmt.Sprintf("text too long: %d chars (max %d)", actual, max),
		Details: map[string]any{"max_chars": max, "actual_chars": actual},
	}
}

// NewConfirmationRequired creates a 428 error for destructive actions issued
// without explicit confirmation.
func NewConfirmationRequired(action string) *QuillError {
	return &QuillError{
		Code:    ErrConfirmationRequired,
		Status:  428,
		Message: fmt.Sprintf("%s requires explicit confirmation", action),
		Details: map[string]any{"action": action},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled via context.
func NewCancelled(operation string) *QuillError {
	return &QuillError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewModelFailed creates a 502 error for failures of the hosted model call.
func NewModelFailed(err error) *QuillError {
	msg := "model call failed"
	if err != nil {
		msg = err.Error()
	}
	return &QuillError{
		Code:    ErrModelFailed,
		Status:  502,
		Message: msg,
	}
}

// NewUnreachable creates a 503 error when a peer (capture agent, processing
// service) cannot be reached.
func NewUnreachable(target string, err error) *QuillError {
	msg := fmt.Sprintf("%s unreachable", target)
	if err != nil {
		msg = fmt.Sprintf("%s unreachable: %v", target, err)
	}
	return &QuillError{
		Code:    ErrUnreachable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"target": target},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *QuillError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &QuillError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is (or wraps) a QuillError with the given code.
func Is(err error, code ErrorCode) bool {
	var qErr *QuillError
	if stderrors.As(err, &qErr) {
		return qErr.Code == code
	}
	return false
}

// As returns the QuillError in err's chain, wrapping unknown errors as INTERNAL.
func As(err error) *QuillError {
	var qErr *QuillError
	if stderrors.As(err, &qErr) {
		return qErr
	}
	return NewInternal(err)
}
