package builder

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"

	engerrors "adde/internal/errors"
)

// TagPrefix namespaces every image the engine builds, and the only images it
// will delete.
const TagPrefix = "agent-env:"

// forbiddenDirectives are Dockerfile fragments that would hand the build or the
// resulting container control of the host daemon.
var forbiddenDirectives = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?i)docker\.sock`), "references the Docker socket"},
	{regexp.MustCompile(`(?i)--privileged\b`), "requests privileged mode"},
	{regexp.MustCompile(`(?i)\bprivileged\s*[:=]?\s*true\b`), "requests privileged mode"},
	{regexp.MustCompile(`(?i)--security\s*=\s*insecure\b`), "requests an insecure build sandbox"},
}

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

var buildArgPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CheckDockerfile rejects Dockerfiles that mount the daemon socket or escalate
// privileges.
func CheckDockerfile(content string) error {
	for _, d := range forbiddenDirectives {
		if loc := d.pattern.FindStringIndex(content); loc != nil {
			line := 1 + strings.Count(content[:loc[0]], "\n")
			return engerrors.NewPolicyError(
				"Dockerfile rejected",
				fmt.Sprintf("line %d %s", line, d.reason),
				"Remove Docker socket mounts and privileged directives",
				nil,
			)
		}
	}
	return nil
}

// NormalizeTag maps a caller tag into the agent-env namespace:
//
//	""          -> agent-env:build-<unix>
//	agent-env:x -> agent-env:x
//	name        -> agent-env:name
//	repo:tag    -> agent-env:repo-tag
func NormalizeTag(tag string, now time.Time) (string, error) {
	tag = strings.TrimSpace(tag)
	switch {
	case tag == "":
		tag = fmt.Sprintf("%sbuild-%d", TagPrefix, now.Unix())
	case strings.HasPrefix(tag, TagPrefix):
	case strings.Contains(tag, ":"):
		tag = TagPrefix + strings.Replace(tag, ":", "-", 1)
	default:
		tag = TagPrefix + tag
	}

	if suffix := strings.TrimPrefix(tag, TagPrefix); !tagPattern.MatchString(suffix) {
		return "", invalidTag(tag, fmt.Errorf("%q is not a valid tag", suffix))
	}
	if _, err := name.NewTag(tag); err != nil {
		return "", invalidTag(tag, err)
	}
	return tag, nil
}

func invalidTag(tag string, err error) error {
	return engerrors.NewInvalidArgumentError(
		fmt.Sprintf("Invalid tag %q", tag),
		err.Error(),
		"Tags may contain letters, digits, '_', '.' and '-' only",
		err,
	)
}

func validateBuildArgs(args map[string]string) error {
	for k := range args {
		if !buildArgPattern.MatchString(k) {
			return engerrors.NewInvalidArgumentError(
				fmt.Sprintf("Invalid build arg %q", k),
				"build arg names must be identifiers",
				"",
				nil,
			)
		}
	}
	return nil
}
