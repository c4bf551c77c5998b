// Package builder drives image builds from staged contexts or existing
// directories and reduces the daemon's build stream to a BuildResult.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/pkg/runtime"
	"adde/pkg/tools"
)

var contextNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Builder runs builds against a ContainerRuntime.
type Builder struct {
	containerRuntime runtime.ContainerRuntime
	cfg              *config.Config
	now              func() time.Time
}

func New(containerRuntime runtime.ContainerRuntime, cfg *config.Config) *Builder {
	return &Builder{
		containerRuntime: containerRuntime,
		cfg:              cfg,
		now:              time.Now,
	}
}

// BuildFromContext builds a context staged by prepare_build_context. contextID
// is either the absolute path it returned or a bare name under the staging base.
func (b *Builder) BuildFromContext(ctx context.Context, contextID, tag string, buildArgs map[string]string) (*tools.BuildResult, error) {
	base, err := filepath.Abs(b.cfg.Workspace.StagingDir)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to resolve staging directory", err.Error(), "", err)
	}

	var dir string
	switch {
	case filepath.IsAbs(contextID):
		dir = filepath.Clean(contextID)
	case contextNamePattern.MatchString(contextID):
		dir = filepath.Join(base, contextID)
	default:
		return nil, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid context_id %q", contextID),
			"context_id must be returned by prepare_build_context",
			"Use build_image_from_path for other directories",
			nil,
		)
	}
	if rel, err := filepath.Rel(base, dir); err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid context_id %q", contextID),
			"context_id is not a staged build context",
			"Use build_image_from_path for other directories",
			nil,
		)
	}
	return b.build(ctx, dir, tag, buildArgs)
}

// BuildFromPath builds an existing directory containing a Dockerfile.
func (b *Builder) BuildFromPath(ctx context.Context, path, tag string, buildArgs map[string]string) (*tools.BuildResult, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return nil, engerrors.NewInvalidArgumentError(fmt.Sprintf("Invalid path %q", path), err.Error(), "", err)
	}
	return b.build(ctx, dir, tag, buildArgs)
}

// build returns a non-nil result alongside a BuildFailed or Timeout error when
// the daemon ran the build and it failed.
func (b *Builder) build(ctx context.Context, dir, tag string, buildArgs map[string]string) (*tools.BuildResult, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Build context %s not found", dir),
			"the build context must be an existing directory",
			"",
			err,
		)
	}
	dockerfile, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	if err != nil {
		return nil, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("No Dockerfile in %s", dir),
			"the build context must contain a Dockerfile",
			"Supply one or stage the context with prepare_build_context",
			err,
		)
	}
	if err := CheckDockerfile(string(dockerfile)); err != nil {
		return nil, err
	}
	tag, err = NormalizeTag(tag, b.now())
	if err != nil {
		return nil, err
	}
	if err := validateBuildArgs(buildArgs); err != nil {
		return nil, err
	}
	if err := b.containerRuntime.Ping(ctx); err != nil {
		return nil, engerrors.FromRuntime("Connecting to the container runtime", err)
	}

	excludes, err := readExcludes(dir)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to read build context", err.Error(), "", err)
	}
	digest, err := contextDigest(dir, excludes)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to read build context", err.Error(), "", err)
	}
	tarStream, err := tarContext(dir, excludes)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to archive build context", err.Error(), "", err)
	}
	defer tarStream.Close()

	result := &tools.BuildResult{Tag: tag, ContextDigest: digest}

	buildCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeouts.Build)
	defer cancel()

	slog.Info("Starting image build", "context", dir, "tag", tag, "digest", digest)
	start := time.Now()

	body, err := b.containerRuntime.BuildImage(buildCtx, tarStream, runtime.BuildOptions{
		Tags:       []string{tag},
		BuildArgs:  buildArgs,
		Dockerfile: "Dockerfile",
	})
	if err != nil {
		if buildCtx.Err() != nil && ctx.Err() == nil {
			return b.timedOut(result, tag, err)
		}
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to build %s", tag), err)
	}

	// Closing the stream on return aborts a build that is still running.
	out, streamErr := parseBuildStream(body)
	body.Close()
	result.BuildLogSummary = out.summary()
	result.FailedLayer = out.failedLayer

	switch {
	case streamErr != nil && buildCtx.Err() != nil && ctx.Err() == nil:
		return b.timedOut(result, tag, streamErr)
	case streamErr != nil:
		return nil, engerrors.FromRuntime(fmt.Sprintf("Build stream of %s broke", tag), streamErr)
	case out.failed():
		result.Status = tools.BuildStatusFailed
		slog.Warn("Image build failed", "tag", tag, "layer", out.failedLayer, "error", out.errMessage)
		return result, engerrors.NewBuildError(fmt.Sprintf("Build of %s failed", tag), out.errMessage, "Inspect build_log_summary and failed_layer", nil)
	}

	image, err := b.containerRuntime.InspectImage(ctx, tag)
	if err != nil {
		return nil, engerrors.FromRuntime(fmt.Sprintf("Built %s but could not inspect it", tag), err)
	}

	result.Status = tools.BuildStatusSuccess
	result.ImageID = image.ID
	if result.ImageID == "" {
		result.ImageID = out.imageID
	}
	result.SizeMB = sizeMB(image.Size)

	slog.Info("Image build finished", "tag", tag, "imageID", result.ImageID, "sizeMB", result.SizeMB, "duration", time.Since(start))
	return result, nil
}

func (b *Builder) timedOut(result *tools.BuildResult, tag string, err error) (*tools.BuildResult, error) {
	result.Status = tools.BuildStatusFailed
	slog.Warn("Image build timed out", "tag", tag, "budget", b.cfg.Timeouts.Build)
	return result, engerrors.NewTimeoutError(
		fmt.Sprintf("Build of %s", tag),
		fmt.Sprintf("the build exceeded its %s budget", b.cfg.Timeouts.Build),
		"Raise ADDE_TIMEOUTS_BUILD or slim the build",
		errors.Join(err, context.DeadlineExceeded),
	)
}

// sizeMB converts bytes to MiB rounded to two decimals.
func sizeMB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1<<20)*100) / 100
}
