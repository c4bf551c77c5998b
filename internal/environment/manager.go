// Package environment owns the lifecycle of runtime environments: validated
// creation, resolution of ids to live containers, listing and cleanup.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/go-containerregistry/pkg/name"

	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/internal/provisioner"
	"adde/pkg/runtime"
	"adde/pkg/tools"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// idleCommand keeps an environment addressable for exec without expiring.
var idleCommand = []string{"tail", "-f", "/dev/null"}

// CreateRequest describes a new runtime environment. Zero MemoryMB and CPUs
// select the configured defaults.
type CreateRequest struct {
	Image        string
	Dependencies []string
	EnvVars      map[string]string
	Network      bool
	// PortBindings maps container port to host port.
	PortBindings map[string]string
	UseImageCmd  bool
	MemoryMB     int64
	CPUs         float64
}

// Manager creates, lists and cleans up runtime environments.
type Manager struct {
	containerRuntime runtime.ContainerRuntime
	resolver         *Resolver
	installer        provisioner.Installer
	cfg              *config.Config
}

func NewManager(containerRuntime runtime.ContainerRuntime, installer provisioner.Installer, cfg *config.Config) *Manager {
	return &Manager{
		containerRuntime: containerRuntime,
		resolver:         NewResolver(containerRuntime),
		installer:        installer,
		cfg:              cfg,
	}
}

// Resolver returns the resolver the manager validates ids with.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

func invalid(what, cause, suggestion string) error {
	return engerrors.NewInvalidArgumentError(what, cause, suggestion, nil)
}

// validate checks every field of req without touching the runtime.
func (m *Manager) validate(req CreateRequest) ([]runtime.PortBinding, error) {
	if strings.TrimSpace(req.Image) == "" {
		return nil, invalid("Image is required", "image is empty", "Pass an image reference such as python:3.12-slim")
	}
	if _, err := name.ParseReference(req.Image); err != nil {
		return nil, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid image reference %q", req.Image), err.Error(), "", err)
	}

	for key := range req.EnvVars {
		if !envKeyPattern.MatchString(key) {
			return nil, invalid("Invalid environment variable", fmt.Sprintf("%q is not a valid variable name", key), "")
		}
	}

	if err := provisioner.ValidateDependencies(req.Dependencies); err != nil {
		return nil, err
	}

	if req.MemoryMB < 0 || req.CPUs < 0 {
		return nil, invalid("Invalid resource limits", "memory_mb and cpus must not be negative", "")
	}

	if len(req.PortBindings) > 0 && !req.Network {
		return nil, invalid("Invalid port binding", "port_bindings have no effect while network is disabled", "Set network to true to publish ports")
	}

	containerPorts := make([]string, 0, len(req.PortBindings))
	for p := range req.PortBindings {
		containerPorts = append(containerPorts, p)
	}
	sort.Strings(containerPorts)

	var ports []runtime.PortBinding
	for _, cPort := range containerPorts {
		hPort := strings.TrimSpace(req.PortBindings[cPort])
		cPort = strings.TrimSpace(cPort)
		proto, port := nat.SplitProtoPort(cPort)
		if _, err := nat.NewPort(proto, port); err != nil || port == "" || strings.Contains(port, "-") {
			return nil, invalid("Invalid port binding", fmt.Sprintf("container port %q is not a port number", cPort), `Use {"3000": "8080"} or {"53/udp": "1053"}`)
		}
		if n, err := nat.ParsePort(hPort); err != nil || n == 0 {
			return nil, invalid("Invalid port binding", fmt.Sprintf("host port %q for %s is not in 1-65535", hPort, cPort), "")
		}
		ports = append(ports, runtime.PortBinding{ContainerPort: cPort, HostPort: hPort})
	}
	return ports, nil
}

// Create provisions a container with the workspace mount, resource ceiling and
// network policy of req, then installs dependencies. Dependency failures are
// reported in the result and never undo the container.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*tools.CreateRuntimeEnvResult, error) {
	ports, err := m.validate(req)
	if err != nil {
		return nil, err
	}

	hostDir, err := m.createWorkspace()
	if err != nil {
		return nil, err
	}

	memoryMB, cpus := m.cfg.Limits.MemoryMB, m.cfg.Limits.CPUs
	if req.MemoryMB > 0 {
		memoryMB = req.MemoryMB
	}
	if req.CPUs > 0 {
		cpus = req.CPUs
	}

	env := make([]string, 0, len(req.EnvVars))
	for k, v := range req.EnvVars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	spec := runtime.ContainerSpec{
		Image: req.Image,
		Env:   env,
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelWorkspace: hostDir,
			LabelImage:     req.Image,
		},
		Binds:          map[string]string{hostDir: WorkspacePath},
		Ports:          ports,
		NetworkEnabled: req.Network,
		MemoryBytes:    config.MemoryBytes(memoryMB),
		NanoCPUs:       config.NanoCPUs(cpus),
		Init:           true,
	}
	if !req.UseImageCmd {
		spec.Command = idleCommand
		spec.WorkingDir = WorkspacePath
	}

	slog.Info("Creating runtime environment", "image", req.Image, "network", req.Network, "memoryMB", memoryMB, "cpus", cpus)

	id, err := m.containerRuntime.CreateContainer(ctx, spec)
	if err != nil {
		m.removeWorkspace(hostDir)
		engineErr := engerrors.FromRuntime(fmt.Sprintf("Failed to create container from %s", req.Image), err)
		if engineErr.Is(engerrors.ErrNotFound) {
			return nil, engerrors.NewImageNotFoundError(
				fmt.Sprintf("Image %s is not available", req.Image),
				"the image is not present on the daemon",
				"Pull it first with pull_image",
				err,
			)
		}
		return nil, engineErr
	}

	if err := m.containerRuntime.StartContainer(ctx, id); err != nil {
		if rmErr := m.containerRuntime.RemoveContainer(context.WithoutCancel(ctx), id); rmErr != nil {
			slog.Error("Failed to remove container after start failure", "containerID", id, "error", rmErr)
		}
		m.removeWorkspace(hostDir)
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to start container %s", id), err)
	}

	result := &tools.CreateRuntimeEnvResult{
		ContainerID:   id,
		Workspace:     WorkspacePath,
		HostWorkspace: hostDir,
	}
	if len(req.Dependencies) > 0 && m.installer != nil {
		result.Dependencies = m.installer.Install(ctx, id, req.Image, req.Dependencies)
		if result.Dependencies != nil && !req.Network {
			result.Dependencies.Warning = "network is disabled, so only packages already cached in the image can install"
		}
	}

	slog.Info("Runtime environment ready", "containerID", id)
	return result, nil
}

func (m *Manager) createWorkspace() (string, error) {
	base := m.cfg.Workspace.BaseDir
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", engerrors.NewIOError("Failed to create workspace base directory", err.Error(), "Check workspace.base_dir", err)
	}
	dir, err := os.MkdirTemp(base, "adde-ws-")
	if err != nil {
		return "", engerrors.NewIOError("Failed to create workspace directory", err.Error(), "Check workspace.base_dir", err)
	}
	// Images that run as a non-root user still need to write their workspace.
	if err := os.Chmod(dir, 0777); err != nil {
		slog.Warn("Failed to widen workspace permissions", "path", dir, "error", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir, nil
	}
	return abs, nil
}

// removeWorkspace deletes a host workspace if it lies under the workspace base.
func (m *Manager) removeWorkspace(dir string) {
	if dir == "" || !isWithin(m.cfg.Workspace.BaseDir, dir) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("Failed to remove workspace directory", "path", dir, "error", err)
	}
}

func isWithin(base, path string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Cleanup stops and removes the environment and its host workspace. Stop
// failures are ignored; the removal is forced.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	h, err := m.resolver.Resolve(ctx, id)
	if err != nil {
		return err
	}

	slog.Info("Cleaning up runtime environment", "containerID", h.ID)

	if h.Running {
		if err := m.containerRuntime.StopContainer(ctx, h.ID, m.cfg.Timeouts.StopGrace); err != nil {
			slog.Warn("Failed to stop container, forcing removal", "containerID", h.ID, "error", err)
		}
	}

	if err := m.containerRuntime.RemoveContainer(ctx, h.ID); err != nil {
		return engerrors.FromRuntime(fmt.Sprintf("Failed to remove container %s", id), err)
	}

	m.removeWorkspace(h.HostWorkspace)
	return nil
}

// List returns every engine-managed environment, running or not.
func (m *Manager) List(ctx context.Context) ([]tools.RuntimeEnvSummary, error) {
	infos, err := m.containerRuntime.ListContainers(ctx, map[string]string{LabelManagedBy: ManagedByValue})
	if err != nil {
		return nil, engerrors.FromRuntime("Failed to list runtime environments", err)
	}

	envs := make([]tools.RuntimeEnvSummary, 0, len(infos))
	for _, info := range infos {
		summary := tools.RuntimeEnvSummary{
			ID:            info.ID,
			Image:         info.Labels[LabelImage],
			State:         info.State,
			HostWorkspace: info.Labels[LabelWorkspace],
		}
		if summary.Image == "" {
			summary.Image = info.Image
		}
		if !info.Created.IsZero() {
			summary.Created = info.Created.UTC().Format(time.RFC3339)
		}
		envs = append(envs, summary)
	}
	return envs, nil
}
