package provisioner

import (
	"context"

	"adde/pkg/tools"
)

// Installer installs packages into a running environment after it was created.
// Failures are reported in the returned record, never as an error, so container
// creation stays independent of dependency installation.
type Installer interface {
	Install(ctx context.Context, containerID, image string, deps []string) *tools.DependencyReport
}
