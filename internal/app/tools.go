package app

import (
	"context"

	"adde/internal/environment"
	"adde/internal/harness"
	"adde/internal/scaffolder"
	"adde/pkg/tools"
)

func init() {
	register(Tool{
		Name:         "pull_image",
		Description:  "Pull an image from its registry",
		NeedsRuntime: true,
		Prepare:      bind("pull_image", pullImage),
	})
	register(Tool{
		Name:         "create_runtime_env",
		Description:  "Create a sandboxed runtime environment",
		NeedsRuntime: true,
		Budget:       createBudget,
		Prepare:      bind("create_runtime_env", createRuntimeEnv),
	})
	register(Tool{
		Name:         "execute_code_block",
		Description:  "Run a code block inside an environment",
		NeedsRuntime: true,
		Prepare:      bind("execute_code_block", executeCodeBlock),
	})
	register(Tool{
		Name:         "get_container_logs",
		Description:  "Return the last execution log of an environment",
		NeedsRuntime: true,
		Budget:       containerBudget,
		Prepare:      bind("get_container_logs", getContainerLogs),
	})
	register(Tool{
		Name:         "cleanup_env",
		Description:  "Destroy an environment and its workspace",
		NeedsRuntime: true,
		Budget:       containerBudget,
		Prepare:      bind("cleanup_env", cleanupEnv),
	})
	register(Tool{
		Name:         "list_runtime_envs",
		Description:  "List managed environments",
		NeedsRuntime: true,
		Budget:       containerBudget,
		Prepare:      bind("list_runtime_envs", listRuntimeEnvs),
	})
	register(Tool{
		Name:        "prepare_build_context",
		Description: "Stage files, a directory or a git checkout as a build context",
		Budget:      stagingBudget,
		Prepare:     bind("prepare_build_context", prepareBuildContext),
	})
	register(Tool{
		Name:         "build_image_from_context",
		Description:  "Build an image from a staged context",
		NeedsRuntime: true,
		Prepare:      bind("build_image_from_context", buildImageFromContext),
	})
	register(Tool{
		Name:         "build_image_from_path",
		Description:  "Build an image from a directory with a Dockerfile",
		NeedsRuntime: true,
		Prepare:      bind("build_image_from_path", buildImageFromPath),
	})
	register(Tool{
		Name:         "list_agent_images",
		Description:  "List images, optionally by tag prefix",
		NeedsRuntime: true,
		Budget:       containerBudget,
		Prepare:      bind("list_agent_images", listAgentImages),
	})
	register(Tool{
		Name:         "prune_build_cache",
		Description:  "Reclaim unused build cache",
		NeedsRuntime: true,
		Prepare:      bind("prune_build_cache", pruneBuildCache),
	})
	register(Tool{
		Name:         "delete_image",
		Description:  "Delete an agent-env image",
		NeedsRuntime: true,
		Budget:       containerBudget,
		Prepare:      bind("delete_image", deleteImage),
	})
}

func pullImage(ctx context.Context, e *Engine, p *tools.PullImageParams) (any, error) {
	return e.Registry.Pull(ctx, p.Image)
}

func createRuntimeEnv(ctx context.Context, e *Engine, p *tools.CreateRuntimeEnvParams) (any, error) {
	var ports map[string]string
	if len(p.PortBindings) > 0 {
		ports = make(map[string]string, len(p.PortBindings))
		for containerPort, hostPort := range p.PortBindings {
			ports[containerPort] = hostPort.String()
		}
	}

	return e.Environment.Create(ctx, environment.CreateRequest{
		Image:        p.Image,
		Dependencies: p.Dependencies,
		EnvVars:      p.EnvVars,
		Network:      p.Network,
		PortBindings: ports,
		UseImageCmd:  p.UseImageCmd,
		MemoryMB:     p.MemoryMB,
		CPUs:         p.CPUs,
	})
}

func executeCodeBlock(ctx context.Context, e *Engine, p *tools.ExecuteCodeBlockParams) (any, error) {
	log, err := e.Harness.Execute(ctx, harness.ExecuteRequest{
		ContainerID: p.ContainerID,
		Filename:    p.Filename,
		CodeContent: *p.CodeContent,
		TimeoutSec:  p.TimeoutSec,
	})
	if err != nil {
		return nil, err
	}
	return &tools.LogResult{Log: log}, nil
}

func getContainerLogs(ctx context.Context, e *Engine, p *tools.GetContainerLogsParams) (any, error) {
	log, err := e.Harness.Logs(ctx, p.ContainerID, p.TailLines)
	if err != nil {
		return nil, err
	}
	return &tools.LogResult{Log: log}, nil
}

func cleanupEnv(ctx context.Context, e *Engine, p *tools.CleanupEnvParams) (any, error) {
	if err := e.Environment.Cleanup(ctx, p.ContainerID); err != nil {
		return nil, err
	}
	return &tools.OKResult{OK: true}, nil
}

func listRuntimeEnvs(ctx context.Context, e *Engine, p *tools.ListRuntimeEnvsParams) (any, error) {
	envs, err := e.Environment.List(ctx)
	if err != nil {
		return nil, err
	}
	if envs == nil {
		envs = []tools.RuntimeEnvSummary{}
	}
	return &tools.ListRuntimeEnvsResult{Environments: envs}, nil
}

func prepareBuildContext(ctx context.Context, e *Engine, p *tools.PrepareBuildContextParams) (any, error) {
	return e.Stager.Prepare(ctx, scaffolder.PrepareRequest{
		Files:      p.Files,
		ContextID:  p.ContextID,
		SourcePath: p.SourcePath,
		GitURL:     p.GitURL,
		GitRef:     p.GitRef,
	})
}

func buildImageFromContext(ctx context.Context, e *Engine, p *tools.BuildImageFromContextParams) (any, error) {
	return e.Builder.BuildFromContext(ctx, p.ContextID, p.Tag, p.BuildArgs)
}

func buildImageFromPath(ctx context.Context, e *Engine, p *tools.BuildImageFromPathParams) (any, error) {
	return e.Builder.BuildFromPath(ctx, p.Path, p.Tag, p.BuildArgs)
}

func listAgentImages(ctx context.Context, e *Engine, p *tools.ListAgentImagesParams) (any, error) {
	return e.Registry.List(ctx, p.FilterTag)
}

func pruneBuildCache(ctx context.Context, e *Engine, p *tools.PruneBuildCacheParams) (any, error) {
	return e.Registry.Prune(ctx, p.OlderThanHrs)
}

func deleteImage(ctx context.Context, e *Engine, p *tools.DeleteImageParams) (any, error) {
	return e.Registry.Delete(ctx, p.Image, p.Force)
}
