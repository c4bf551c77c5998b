package scaffolder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"adde/internal/config"
	engerrors "adde/internal/errors"
)

// Cloner fetches a repository snapshot into an empty directory.
type Cloner interface {
	Clone(ctx context.Context, url, ref, dir string) error
}

// GitCloner shallow-clones with go-git, authenticating over HTTP basic auth
// when a token is configured.
type GitCloner struct {
	auth *http.BasicAuth
}

func NewGitCloner(cfg config.Git) *GitCloner {
	c := &GitCloner{}
	if cfg.Token != "" {
		username := cfg.Username
		if username == "" {
			username = "oauth2"
		}
		c.auth = &http.BasicAuth{Username: username, Password: cfg.Token}
	}
	return c
}

// Clone checks out ref (a branch, then a tag) or the default branch at depth 1.
func (c *GitCloner) Clone(ctx context.Context, url, ref, dir string) error {
	if ref == "" {
		return c.clone(ctx, url, "", dir)
	}

	err := c.clone(ctx, url, plumbing.NewBranchReferenceName(ref), dir)
	if err == nil || !isMissingRef(err) {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset clone directory: %w", err)
	}
	return c.clone(ctx, url, plumbing.NewTagReferenceName(ref), dir)
}

func (c *GitCloner) clone(ctx context.Context, url string, ref plumbing.ReferenceName, dir string) error {
	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if ref != "" {
		opts.ReferenceName = ref
	}
	if c.auth != nil {
		opts.Auth = c.auth
	}

	slog.Info("Cloning build source", "url", url, "ref", ref.String())
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}

func isMissingRef(err error) bool {
	var noMatch git.NoMatchingRefSpecError
	return errors.As(err, &noMatch) || errors.Is(err, plumbing.ErrReferenceNotFound)
}

// cloneInto clones into a scratch directory and copies the checkout, without
// .git, into the staging directory.
func (s *Stager) cloneInto(ctx context.Context, url, ref, dir string) error {
	scratch, err := os.MkdirTemp("", stagingPrefix+"git-")
	if err != nil {
		return engerrors.NewIOError("Failed to create clone directory", err.Error(), "", err)
	}
	defer os.RemoveAll(scratch)

	cloneCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Clone)
	defer cancel()

	if err := s.cloner.Clone(cloneCtx, url, ref, scratch); err != nil {
		if cloneCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return engerrors.NewTimeoutError(
				fmt.Sprintf("Cloning %s", url),
				fmt.Sprintf("the clone did not finish within %s", s.cfg.Timeouts.Clone),
				"Raise ADDE_TIMEOUTS_CLONE for large repositories",
				err,
			)
		}
		suggestion := "Check git_url and git_ref"
		if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
			suggestion = "Set ADDE_GIT_USERNAME and ADDE_GIT_TOKEN for private repositories"
		}
		return engerrors.NewInvalidArgumentError(fmt.Sprintf("Failed to clone %s", url), err.Error(), suggestion, err)
	}

	if err := copyDirectory(scratch, dir); err != nil {
		return engerrors.NewIOError("Failed to stage cloned sources", err.Error(), "", err)
	}
	return nil
}
