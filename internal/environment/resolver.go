package environment

import (
	"context"
	"fmt"

	engerrors "adde/internal/errors"
	"adde/pkg/runtime"
)

// Labels stamped on every container the engine creates.
const (
	LabelManagedBy = "adde.managed-by"
	LabelWorkspace = "adde.workspace"
	LabelImage     = "adde.image"
	ManagedByValue = "adde"
)

// WorkspacePath is where the host workspace is mounted inside every environment.
const WorkspacePath = "/workspace"

// Handle is a validated reference to a live, engine-managed container.
type Handle struct {
	ID            string
	Image         string
	State         string
	Running       bool
	HostWorkspace string
}

// Resolver maps container ids onto live handles before any operation runs
// against them.
type Resolver struct {
	containerRuntime runtime.ContainerRuntime
}

func NewResolver(containerRuntime runtime.ContainerRuntime) *Resolver {
	return &Resolver{containerRuntime: containerRuntime}
}

// Resolve returns the handle for id. Unknown ids are NotFound; containers the
// engine did not create are a PolicyViolation.
func (r *Resolver) Resolve(ctx context.Context, id string) (Handle, error) {
	if id == "" {
		return Handle{}, engerrors.NewInvalidArgumentError(
			"Container id is required",
			"container_id is empty",
			"Pass the container_id returned by create_runtime_env",
			nil,
		)
	}

	info, err := r.containerRuntime.InspectContainer(ctx, id)
	if err != nil {
		engineErr := engerrors.FromRuntime(fmt.Sprintf("Container %s cannot be resolved", id), err)
		if engineErr.Is(engerrors.ErrNotFound) {
			engineErr.Cause = fmt.Sprintf("no container with id %s exists", id)
			engineErr.Suggestion = "Create a runtime environment first, or list live ones with list_runtime_envs"
		}
		return Handle{}, engineErr
	}

	if info.Labels[LabelManagedBy] != ManagedByValue {
		return Handle{}, engerrors.NewPolicyError(
			fmt.Sprintf("Container %s is not managed by adde", id),
			"only environments created by create_runtime_env can be operated on",
			"",
			nil,
		)
	}

	return Handle{
		ID:            info.ID,
		Image:         info.Image,
		State:         info.State,
		Running:       info.Running,
		HostWorkspace: info.Labels[LabelWorkspace],
	}, nil
}

// ResolveRunning is Resolve plus a liveness check: a stopped container cannot
// run code and is reported as NotFound.
func (r *Resolver) ResolveRunning(ctx context.Context, id string) (Handle, error) {
	h, err := r.Resolve(ctx, id)
	if err != nil {
		return Handle{}, err
	}
	if !h.Running {
		return Handle{}, engerrors.NewNotFoundError(
			fmt.Sprintf("Container %s is not running", id),
			fmt.Sprintf("container state is %q", h.State),
			"Clean it up and create a new runtime environment",
			nil,
		)
	}
	return h, nil
}
