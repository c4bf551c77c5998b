// Package scaffolder stages build contexts on the host: it copies or clones a
// source tree, writes caller files over it and synthesizes a Dockerfile and
// .dockerignore when the caller did not supply them.
package scaffolder

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/pkg/tools"
)

const stagingPrefix = "adde-build-"

var contextNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Stager prepares build contexts under the configured staging base.
type Stager struct {
	cfg    *config.Config
	cloner Cloner
}

func NewStager(cfg *config.Config, cloner Cloner) *Stager {
	return &Stager{cfg: cfg, cloner: cloner}
}

// PrepareRequest mirrors prepare_build_context. Sources are applied in order:
// SourcePath, then GitURL, then Files.
type PrepareRequest struct {
	Files      map[string]string
	ContextID  string
	SourcePath string
	GitURL     string
	GitRef     string
}

// Prepare stages a build context and returns its absolute path as context_id.
func (s *Stager) Prepare(ctx context.Context, req PrepareRequest) (*tools.PrepareBuildContextResult, error) {
	names, err := validateFiles(req.Files)
	if err != nil {
		return nil, err
	}

	if req.SourcePath != "" {
		info, err := os.Stat(req.SourcePath)
		if err != nil || !info.IsDir() {
			return nil, engerrors.NewInvalidArgumentError(
				fmt.Sprintf("Invalid source_path %q", req.SourcePath),
				"source_path must be an existing directory",
				"",
				err,
			)
		}
	}
	if req.GitRef != "" && req.GitURL == "" {
		return nil, engerrors.NewInvalidArgumentError("Invalid git_ref", "git_ref requires git_url", "", nil)
	}

	dir, created, err := s.stagingDir(req.ContextID)
	if err != nil {
		return nil, err
	}

	if req.SourcePath != "" {
		abs, _ := filepath.Abs(req.SourcePath)
		if isWithin(abs, dir) {
			s.discard(dir, created)
			return nil, engerrors.NewInvalidArgumentError(
				fmt.Sprintf("Invalid source_path %q", req.SourcePath),
				"source_path contains the staging directory",
				"",
				nil,
			)
		}
	}

	result, err := s.stage(ctx, dir, req, names)
	if err != nil {
		s.discard(dir, created)
		return nil, err
	}

	slog.Info("Prepared build context", "contextID", dir, "files", len(names), "template", result.Template)
	return result, nil
}

func (s *Stager) stage(ctx context.Context, dir string, req PrepareRequest, names []string) (*tools.PrepareBuildContextResult, error) {
	if req.SourcePath != "" {
		if err := copyDirectory(req.SourcePath, dir); err != nil {
			return nil, engerrors.NewIOError(fmt.Sprintf("Failed to copy %s", req.SourcePath), err.Error(), "", err)
		}
	}

	if req.GitURL != "" {
		if err := s.cloneInto(ctx, req.GitURL, req.GitRef, dir); err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return nil, engerrors.NewIOError(fmt.Sprintf("Failed to create directory for %s", name), err.Error(), "", err)
		}
		if err := os.WriteFile(full, []byte(req.Files[name]), 0644); err != nil {
			return nil, engerrors.NewIOError(fmt.Sprintf("Failed to write %s", name), err.Error(), "", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to read build context", err.Error(), "", err)
	}
	if len(entries) == 0 {
		return nil, engerrors.NewInvalidArgumentError(
			"Nothing to stage",
			"no files, source_path or git_url given and the context is empty",
			"Provide files, source_path or git_url",
			nil,
		)
	}

	if err := writeDockerignore(dir); err != nil {
		return nil, engerrors.NewIOError("Failed to write .dockerignore", err.Error(), "", err)
	}

	result := &tools.PrepareBuildContextResult{ContextID: dir}
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		return result, nil
	}

	tmpl, dockerfile, err := synthesizeDockerfile(dir, s.cfg.Templates)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to inspect build context", err.Error(), "", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0644); err != nil {
		return nil, engerrors.NewIOError("Failed to write generated Dockerfile", err.Error(), "", err)
	}
	result.DockerfileGenerated = true
	result.Template = tmpl
	return result, nil
}

// stagingDir resolves context_id to a directory under the staging base. created
// reports whether this call made it.
func (s *Stager) stagingDir(contextID string) (string, bool, error) {
	base, err := filepath.Abs(s.cfg.Workspace.StagingDir)
	if err != nil {
		return "", false, engerrors.NewIOError("Failed to resolve staging directory", err.Error(), "", err)
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", false, engerrors.NewIOError("Failed to create staging directory", err.Error(), "", err)
	}

	if contextID == "" {
		dir, err := os.MkdirTemp(base, stagingPrefix)
		if err != nil {
			return "", false, engerrors.NewIOError("Failed to create build context", err.Error(), "", err)
		}
		return dir, true, nil
	}

	var dir string
	switch {
	case filepath.IsAbs(contextID):
		dir = filepath.Clean(contextID)
		if dir == base || !isWithin(base, dir) {
			return "", false, engerrors.NewInvalidArgumentError(
				fmt.Sprintf("Invalid context_id %q", contextID),
				"an absolute context_id must be inside "+base,
				"Omit context_id to get a fresh one",
				nil,
			)
		}
	case contextNamePattern.MatchString(contextID):
		dir = filepath.Join(base, contextID)
	default:
		return "", false, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid context_id %q", contextID),
			"context_id must be a plain name or an absolute path inside "+base,
			"",
			nil,
		)
	}

	_, statErr := os.Stat(dir)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, engerrors.NewIOError("Failed to create build context", err.Error(), "", err)
	}
	return dir, created, nil
}

func (s *Stager) discard(dir string, created bool) {
	if !created {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("Failed to remove staged build context", "contextID", dir, "error", err)
	}
}

// validateFiles checks every relative path before anything touches disk and
// returns them in sorted order.
func validateFiles(files map[string]string) ([]string, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		if err := validatePath(name); err != nil {
			return nil, engerrors.NewInvalidArgumentError(
				fmt.Sprintf("Invalid file path %q", name),
				err.Error(),
				"Use relative paths without '..' segments",
				err,
			)
		}
		names = append(names, path.Clean(filepath.ToSlash(name)))
	}
	sort.Strings(names)
	return names, nil
}

// validatePath rejects empty, absolute and parent-relative paths.
func validatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("path is empty")
	}
	slashed := filepath.ToSlash(p)
	if filepath.IsAbs(p) || strings.HasPrefix(slashed, "/") {
		return fmt.Errorf("path is absolute: %s", p)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return fmt.Errorf("path contains directory traversal: %s", p)
		}
	}
	if path.Clean(slashed) == "." {
		return fmt.Errorf("path names the context root: %s", p)
	}
	return nil
}

// copyDirectory recursively copies regular files and directories from src to
// dst. Symlinks and special files are skipped.
func copyDirectory(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		destPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}
		if !d.Type().IsRegular() {
			slog.Debug("Skipping non-regular file", "path", p)
			return nil
		}
		return copyFile(p, destPath)
	})
}

// copyFile copies a single file from src to dst, keeping its permission bits.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get source file info: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	return nil
}

func isWithin(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
