package builder

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docker/docker/pkg/archive"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/zeebo/blake3"
)

// readExcludes loads .dockerignore patterns. The Dockerfile and .dockerignore
// are always sent to the daemon.
func readExcludes(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open .dockerignore: %w", err)
	}
	defer f.Close()

	excludes, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse .dockerignore: %w", err)
	}
	if len(excludes) == 0 {
		return nil, nil
	}
	return append(excludes, "!Dockerfile", "!.dockerignore"), nil
}

// tarContext streams dir as an uncompressed tar honoring excludes.
func tarContext(dir string, excludes []string) (io.ReadCloser, error) {
	return archive.TarWithOptions(dir, &archive.TarOptions{
		ExcludePatterns: excludes,
		Compression:     archive.Uncompressed,
	})
}

// contextDigest hashes the relative path and content of every regular file
// that would be sent to the daemon, in lexical order.
func contextDigest(dir string, excludes []string) (string, error) {
	pm, err := patternmatcher.New(excludes)
	if err != nil {
		return "", fmt.Errorf("invalid .dockerignore pattern: %w", err)
	}

	hasher := blake3.New()
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		excluded, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if excluded {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		fmt.Fprintf(hasher, "%s\x00", rel)
		if _, err := io.Copy(hasher, f); err != nil {
			return err
		}
		_, err = hasher.Write([]byte{0})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash build context: %w", err)
	}
	return fmt.Sprintf("blake3:%x", hasher.Sum(nil)), nil
}
