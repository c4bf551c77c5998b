package provisioner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	engerrors "adde/internal/errors"
	"adde/pkg/runtime"
	"adde/pkg/tools"
)

const (
	// WorkingDirectory is the container working directory
	WorkingDirectory = "/workspace"

	// outputTailLines bounds the install output kept in a report.
	outputTailLines = 20
)

// dependencyPattern accepts package specs such as "requests==2.31", "lodash@4"
// or "@types/node". A leading dash would be read as an option.
var dependencyPattern = regexp.MustCompile(`^[A-Za-z0-9@][A-Za-z0-9._@/=<>~!+\-\[\],:]*$`)

// ValidateDependencies rejects specs that are empty, contain whitespace or could
// be mistaken for installer flags.
func ValidateDependencies(deps []string) error {
	for _, dep := range deps {
		if !dependencyPattern.MatchString(dep) {
			return engerrors.NewInvalidArgumentError(
				"Invalid dependency specification",
				fmt.Sprintf("dependency %q is not a valid package name", dep),
				"Use plain package specs such as requests==2.31 or lodash@4",
				nil,
			)
		}
	}
	return nil
}

// installPlan is one installer invocation, tried in order until one succeeds.
type installPlan struct {
	installer string
	cmd       []string
}

func plansFor(image string, deps []string) []installPlan {
	pip := installPlan{"pip", append([]string{"pip", "install", "--no-cache-dir", "-q"}, deps...)}
	npm := installPlan{"npm", append([]string{"npm", "install", "-g"}, deps...)}
	apk := installPlan{"apk", append([]string{"apk", "add", "--no-cache"}, deps...)}

	ref := strings.ToLower(image)
	switch {
	case strings.Contains(ref, "python"):
		return []installPlan{pip}
	case strings.Contains(ref, "node"):
		return []installPlan{npm}
	default:
		return []installPlan{pip, apk}
	}
}

// DependencyInstaller implements Installer by exec'ing package managers in the
// target container.
type DependencyInstaller struct {
	containerRuntime runtime.ContainerRuntime
	timeout          time.Duration
	killWrapper      []string
}

// NewDependencyInstaller creates a new DependencyInstaller.
func NewDependencyInstaller(containerRuntime runtime.ContainerRuntime, timeout time.Duration, killWrapper []string) *DependencyInstaller {
	return &DependencyInstaller{
		containerRuntime: containerRuntime,
		timeout:          timeout,
		killWrapper:      killWrapper,
	}
}

// Install runs the installer matching image. For images of unknown ecosystem pip
// is tried first and apk second.
func (p *DependencyInstaller) Install(ctx context.Context, containerID, image string, deps []string) *tools.DependencyReport {
	if len(deps) == 0 {
		return nil
	}

	var report *tools.DependencyReport
	for _, plan := range plansFor(image, deps) {
		report = p.run(ctx, containerID, plan, deps)
		if report.OK || report.Error != "" {
			break
		}
	}
	return report
}

func (p *DependencyInstaller) run(ctx context.Context, containerID string, plan installPlan, deps []string) *tools.DependencyReport {
	report := &tools.DependencyReport{
		Installer: plan.installer,
		Packages:  deps,
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := plan.cmd
	if len(p.killWrapper) > 0 {
		secs := strconv.Itoa(int(p.timeout.Seconds()))
		cmd = append(append(append([]string{}, p.killWrapper...), secs), plan.cmd...)
	}

	slog.Info("Installing dependencies", "containerID", containerID, "installer", plan.installer, "packages", deps)

	var output bytes.Buffer
	res, err := p.containerRuntime.Exec(runCtx, containerID, runtime.ExecOptions{
		Cmd:        cmd,
		WorkingDir: WorkingDirectory,
		Stdout:     &output,
		Stderr:     &output,
	})
	report.Output = tailOutput(output.String(), outputTailLines)
	report.ExitCode = res.ExitCode

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		report.Error = fmt.Sprintf("%s install timed out after %s", plan.installer, p.timeout)
	case err != nil:
		report.Error = err.Error()
	case res.ExitCode == 0:
		report.OK = true
		slog.Info("Dependencies installed", "containerID", containerID, "installer", plan.installer)
	default:
		slog.Warn("Dependency install failed", "containerID", containerID, "installer", plan.installer, "exitCode", res.ExitCode)
	}
	return report
}

// tailOutput cleans every line and keeps the last n non-empty ones.
func tailOutput(raw string, n int) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if clean := cleanDockerLogLine(line); clean != "" {
			lines = append(lines, clean)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ansiRegex is a compiled regex for ANSI escape sequences
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// cleanDockerLogLine removes Docker log headers, ANSI escape sequences, and filters out binary/control characters.
func cleanDockerLogLine(line string) string {
	if len(line) == 0 {
		return ""
	}

	// Raw multiplexed streams carry an 8-byte header: [STREAM_TYPE][0][0][0][SIZE]
	if len(line) >= 8 && (line[0] == 1 || line[0] == 2) && line[1] == 0 && line[2] == 0 && line[3] == 0 {
		line = line[8:]
	}

	line = ansiRegex.ReplaceAllString(line, "")

	// Progress bars redraw with carriage returns; keep the final state.
	if i := strings.LastIndex(line, "\r"); i >= 0 && i < len(line)-1 {
		line = line[i+1:]
	}

	line = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, line)

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return ""
	}

	// Filter out lines that are mostly binary
	printableChars := 0
	for _, r := range line {
		if r >= 32 && r != 0xFFFD {
			printableChars++
		}
	}
	if float64(printableChars)/float64(len([]rune(line))) < 0.5 {
		return ""
	}

	return line
}
