// Package registry manages the image store: pulls, listings, namespace-guarded
// deletes and build cache pruning.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"

	"adde/internal/builder"
	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/pkg/runtime"
	"adde/pkg/tools"
)

// pullMissingHints are daemon messages meaning the reference does not resolve.
var pullMissingHints = []string{
	"manifest unknown",
	"not found",
	"pull access denied",
	"repository does not exist",
}

// Guard wraps the image operations of a ContainerRuntime.
type Guard struct {
	containerRuntime runtime.ContainerRuntime
	cfg              *config.Config
}

func NewGuard(containerRuntime runtime.ContainerRuntime, cfg *config.Config) *Guard {
	return &Guard{containerRuntime: containerRuntime, cfg: cfg}
}

// Pull fetches image using the configured credentials for its registry.
func (g *Guard) Pull(ctx context.Context, image string) (*tools.OKResult, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return nil, engerrors.NewInvalidArgumentError("Invalid image", "image is required", "", nil)
	}
	ref, err := name.ParseReference(image)
	if err != nil {
		return nil, engerrors.NewInvalidArgumentError(fmt.Sprintf("Invalid image reference %q", image), err.Error(), "", err)
	}

	auth, err := AuthFor(ref, g.cfg.Registry)
	if err != nil {
		return nil, engerrors.NewInvalidArgumentError("Invalid registry credentials", err.Error(), "Check the ADDE_REGISTRY_* settings", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Build)
	defer cancel()

	slog.Info("Pulling image", "image", image, "registry", ref.Context().RegistryStr(), "authenticated", auth != "")
	if err := g.containerRuntime.PullImage(pullCtx, image, runtime.PullOptions{RegistryAuth: auth}); err != nil {
		if isMissingImage(err) {
			return nil, engerrors.NewImageNotFoundError(
				fmt.Sprintf("Failed to pull %s", image),
				err.Error(),
				"Check the image name and tag, or configure registry credentials",
				err,
			)
		}
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to pull %s", image), err)
	}
	return &tools.OKResult{OK: true}, nil
}

func isMissingImage(err error) bool {
	if errors.Is(err, runtime.ErrNotFound) {
		return true
	}
	if errors.Is(err, runtime.ErrUnavailable) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range pullMissingHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// List returns every image, or those with a tag starting with filterTag. When
// filtering, only the matching tags are reported.
func (g *Guard) List(ctx context.Context, filterTag string) (*tools.ListAgentImagesResult, error) {
	filterTag = strings.TrimSpace(filterTag)

	images, err := g.containerRuntime.ListImages(ctx)
	if err != nil {
		return nil, engerrors.FromRuntime("Failed to list images", err)
	}

	result := &tools.ListAgentImagesResult{Images: []tools.ImageSummary{}}
	for _, img := range images {
		tags := img.Tags
		if filterTag != "" {
			tags = nil
			for _, tag := range img.Tags {
				if strings.HasPrefix(tag, filterTag) {
					tags = append(tags, tag)
				}
			}
			if len(tags) == 0 {
				continue
			}
		}
		if tags == nil {
			tags = []string{}
		}

		summary := tools.ImageSummary{ID: img.ID, Tags: tags, SizeMB: toMB(uint64(max(img.Size, 0)))}
		if !img.Created.IsZero() {
			summary.Created = img.Created.UTC().Format(time.RFC3339)
		}
		result.Images = append(result.Images, summary)
	}
	return result, nil
}

// Delete removes an agent-env image. Any other reference is refused before the
// runtime is contacted.
func (g *Guard) Delete(ctx context.Context, image string, force bool) (*tools.DeleteImageResult, error) {
	image = strings.TrimSpace(image)
	if !strings.HasPrefix(image, builder.TagPrefix) {
		return nil, engerrors.NewPolicyError(
			fmt.Sprintf("Refusing to delete %q", image),
			fmt.Sprintf("only images tagged %s* may be deleted", builder.TagPrefix),
			"Delete images built by this engine only",
			nil,
		)
	}

	deleted, err := g.containerRuntime.RemoveImage(ctx, image, force)
	if err != nil {
		if errors.Is(err, runtime.ErrConflict) {
			return nil, engerrors.NewConflictError(
				fmt.Sprintf("Image %s is in use", image),
				err.Error(),
				"Remove the containers using it or retry with force=true",
				err,
			)
		}
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to delete %s", image), err)
	}

	slog.Info("Deleted image", "image", image, "force", force, "removed", len(deleted))
	return &tools.DeleteImageResult{OK: true, Deleted: deleted}, nil
}

// Prune reclaims unused build cache, limited to entries older than
// olderThanHrs when it is positive.
func (g *Guard) Prune(ctx context.Context, olderThanHrs int) (*tools.PruneBuildCacheResult, error) {
	if olderThanHrs < 0 {
		return nil, engerrors.NewInvalidArgumentError("Invalid older_than_hrs", "older_than_hrs must not be negative", "Use 0 to prune all unused cache", nil)
	}

	opts := runtime.PruneOptions{All: true}
	if olderThanHrs > 0 {
		opts.Until = fmt.Sprintf("%dh", olderThanHrs)
	}

	pruneCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Build)
	defer cancel()

	report, err := g.containerRuntime.PruneBuildCache(pruneCtx, opts)
	if err != nil {
		return nil, engerrors.FromRuntime("Failed to prune build cache", err)
	}

	slog.Info("Pruned build cache", "until", opts.Until, "reclaimedBytes", report.SpaceReclaimed, "caches", len(report.CachesDeleted))
	return &tools.PruneBuildCacheResult{
		SpaceReclaimedMB: toMB(report.SpaceReclaimed),
		CachesDeleted:    len(report.CachesDeleted),
	}, nil
}

func toMB(bytes uint64) float64 {
	return math.Round(float64(bytes)/(1<<20)*100) / 100
}
