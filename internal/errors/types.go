package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrImageNotFound      = errors.New("image not found")
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrPolicyViolation    = errors.New("policy violation")
	ErrBuildFailed        = errors.New("image build failed")
	ErrIO                 = errors.New("filesystem operation failed")
	ErrConflict           = errors.New("resource conflict")
	ErrRuntimeFailed      = errors.New("runtime operation failed")

	// ErrNoExecution is a NotFound for a live environment that has never run code.
	ErrNoExecution = fmt.Errorf("%w: no prior execution", ErrNotFound)
)

// EngineError carries a taxonomy kind plus the human-facing context, cause and
// suggestion rendered by the error handler.
type EngineError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *EngineError) Error() string {
	if e.OriginalErr == nil {
		if e.Cause != "" {
			return e.Cause
		}
		return e.Type.Error()
	}
	return e.OriginalErr.Error()
}

func (e *EngineError) Unwrap() error {
	return e.OriginalErr
}

// Is reports a match against the error's kind, so errors.Is(err, ErrNotFound)
// holds for every EngineError of that kind regardless of the wrapped cause.
func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

func NewEngineError(errorType error, context, cause, suggestion string, originalErr error) *EngineError {
	if originalErr == nil {
		originalErr = errors.New(cause)
	}
	return &EngineError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewInvalidArgumentError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrInvalidArgument, context, cause, suggestion, originalErr)
}

func NewNotFoundError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrNotFound, context, cause, suggestion, originalErr)
}

func NewNoExecutionError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrNoExecution, context, cause, suggestion, originalErr)
}

func NewImageNotFoundError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrImageNotFound, context, cause, suggestion, originalErr)
}

func NewUnavailableError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrRuntimeUnavailable, context, cause, suggestion, originalErr)
}

func NewTimeoutError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrTimeout, context, cause, suggestion, originalErr)
}

func NewPolicyError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrPolicyViolation, context, cause, suggestion, originalErr)
}

func NewBuildError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrBuildFailed, context, cause, suggestion, originalErr)
}

func NewIOError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrIO, context, cause, suggestion, originalErr)
}

func NewConflictError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrConflict, context, cause, suggestion, originalErr)
}

func NewRuntimeError(context, cause, suggestion string, originalErr error) *EngineError {
	return NewEngineError(ErrRuntimeFailed, context, cause, suggestion, originalErr)
}

// KindOf returns the stable snake_case name of err's taxonomy kind.
func KindOf(err error) string {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return getErrorTypeName(engineErr.Type)
	}
	return getErrorTypeName(err)
}

func getErrorTypeName(errType error) string {
	switch {
	case errType == nil:
		return "unknown"
	case errors.Is(errType, ErrNoExecution):
		return "no_execution"
	case errors.Is(errType, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(errType, ErrNotFound):
		return "not_found"
	case errors.Is(errType, ErrImageNotFound):
		return "image_not_found"
	case errors.Is(errType, ErrRuntimeUnavailable):
		return "runtime_unavailable"
	case errors.Is(errType, ErrTimeout):
		return "timeout"
	case errors.Is(errType, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(errType, ErrBuildFailed):
		return "build_failed"
	case errors.Is(errType, ErrIO):
		return "io_error"
	case errors.Is(errType, ErrConflict):
		return "conflict"
	case errors.Is(errType, ErrRuntimeFailed):
		return "runtime_failed"
	default:
		return "unknown"
	}
}

// Message renders err for the JSON reply: the context and cause of an
// EngineError, or the plain error text otherwise.
func Message(err error) string {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		switch {
		case engineErr.Context != "" && engineErr.Cause != "":
			return engineErr.Context + ": " + engineErr.Cause
		case engineErr.Context != "":
			return engineErr.Context
		}
	}
	return err.Error()
}
