package app

import (
	"context"
	"io"
	"log/slog"

	"adde/internal/builder"
	"adde/internal/config"
	"adde/internal/environment"
	engerrors "adde/internal/errors"
	"adde/internal/harness"
	"adde/internal/provisioner"
	"adde/internal/registry"
	dockerruntime "adde/internal/runtime"
	"adde/internal/scaffolder"
	"adde/pkg/runtime"
)

// RuntimeProvider connects to a container runtime.
type RuntimeProvider func(ctx context.Context) (runtime.ContainerRuntime, error)

// DockerProvider returns a client for the Docker daemon named by the
// environment.
func DockerProvider(_ context.Context) (runtime.ContainerRuntime, error) {
	return dockerruntime.NewDockerRuntime()
}

// Engine bundles the components one invocation may use. Runtime-backed
// components are nil when the tool does not need the runtime.
type Engine struct {
	Config      *config.Config
	Environment *environment.Manager
	Harness     *harness.Harness
	Stager      *scaffolder.Stager
	Builder     *builder.Builder
	Registry    *registry.Guard
}

// EngineFactory wires engine components from a configuration and a runtime
// provider, decoupling the dispatcher from the concrete runtime.
type EngineFactory struct {
	cfg        *config.Config
	newRuntime RuntimeProvider
}

// NewEngineFactory creates a factory; a nil provider selects Docker.
func NewEngineFactory(cfg *config.Config, newRuntime RuntimeProvider) *EngineFactory {
	if newRuntime == nil {
		newRuntime = DockerProvider
	}
	return &EngineFactory{cfg: cfg, newRuntime: newRuntime}
}

// Engine builds the components for one invocation. The returned release func
// closes the runtime connection and must always be called.
func (f *EngineFactory) Engine(ctx context.Context, needsRuntime bool) (*Engine, func(), error) {
	e := &Engine{
		Config: f.cfg,
		Stager: scaffolder.NewStager(f.cfg, scaffolder.NewGitCloner(f.cfg.Git)),
	}
	if !needsRuntime {
		return e, func() {}, nil
	}

	rt, err := f.newRuntime(ctx)
	if err != nil {
		return nil, func() {}, engerrors.FromRuntime("Connecting to the container runtime", err)
	}

	installer := provisioner.NewDependencyInstaller(rt, f.cfg.Timeouts.Install, f.cfg.Exec.KillWrapper)
	e.Environment = environment.NewManager(rt, installer, f.cfg)
	e.Harness = harness.New(rt, e.Environment.Resolver(), f.cfg)
	e.Builder = builder.New(rt, f.cfg)
	e.Registry = registry.NewGuard(rt, f.cfg)

	release := func() {
		if closer, ok := rt.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Debug("Failed to close runtime connection", "error", err)
			}
		}
	}
	return e, release, nil
}
