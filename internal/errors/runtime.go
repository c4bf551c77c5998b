package errors

import (
	"context"
	"errors"

	"adde/pkg/runtime"
)

// FromRuntime classifies an error returned by a ContainerRuntime. operation names
// what was attempted and the offending id or reference.
func FromRuntime(operation string, err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	switch {
	case errors.Is(err, runtime.ErrUnavailable):
		return NewUnavailableError(operation, "the container daemon cannot be reached",
			"Start the Docker daemon or point DOCKER_HOST at a reachable one", err)
	case isDeadline(err):
		return NewTimeoutError(operation, "the operation exceeded its time budget",
			"Retry, or raise the matching ADDE_TIMEOUTS_* setting", err)
	case errors.Is(err, runtime.ErrNotFound):
		return NewNotFoundError(operation, err.Error(), "", err)
	case errors.Is(err, runtime.ErrConflict):
		return NewConflictError(operation, err.Error(), "", err)
	default:
		return NewRuntimeError(operation, err.Error(), "", err)
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
