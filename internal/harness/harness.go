// Package harness transfers code into runtime environments, runs it under a
// wall-clock budget and keeps the last ExecutionLog of each environment.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"adde/internal/config"
	"adde/internal/environment"
	engerrors "adde/internal/errors"
	"adde/pkg/runtime"
	"adde/pkg/tools"
)

const (
	// LastRunFile is the ExecutionLog kept inside every environment's workspace.
	LastRunFile = ".adde_last_run.json"

	// TimeoutExitCode is reported for every execution that ran out of time.
	TimeoutExitCode = 124
	killedExitCode  = 137

	// RunMarkerEnv is set in the environment of every code block. Children
	// inherit it, so the whole tree can be found again after a timeout.
	RunMarkerEnv = "ADDE_RUN_ID"

	reapTimeout = 10 * time.Second
)

// Harness runs code blocks and serves their logs.
type Harness struct {
	containerRuntime runtime.ContainerRuntime
	resolver         *environment.Resolver
	cfg              *config.Config
}

func New(containerRuntime runtime.ContainerRuntime, resolver *environment.Resolver, cfg *config.Config) *Harness {
	return &Harness{
		containerRuntime: containerRuntime,
		resolver:         resolver,
		cfg:              cfg,
	}
}

// ExecuteRequest is one code block to run. Zero TimeoutSec selects the
// configured default.
type ExecuteRequest struct {
	ContainerID string
	Filename    string
	CodeContent string
	TimeoutSec  int
}

// Budget returns the wall-clock budget for a request.
func (h *Harness) Budget(timeoutSec int) (time.Duration, error) {
	if timeoutSec < 0 {
		return 0, engerrors.NewInvalidArgumentError("Invalid timeout", "timeout_sec must not be negative", "", nil)
	}
	timeout := h.cfg.Timeouts.Exec
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout > h.cfg.Timeouts.ExecMax {
		return 0, engerrors.NewInvalidArgumentError(
			"Invalid timeout",
			fmt.Sprintf("timeout_sec exceeds the maximum of %d", int(h.cfg.Timeouts.ExecMax.Seconds())),
			"",
			nil,
		)
	}
	return timeout, nil
}

// Execute copies the code into the environment's workspace through the archive
// API and runs it with the launcher for its extension. Running out of time is a
// result (exit code 124, timed_out), not an error.
func (h *Harness) Execute(ctx context.Context, req ExecuteRequest) (*tools.ExecutionLog, error) {
	timeout, err := h.Budget(req.TimeoutSec)
	if err != nil {
		return nil, err
	}
	launcher, err := LauncherFor(req.Filename)
	if err != nil {
		return nil, err
	}

	handle, err := h.resolver.ResolveRunning(ctx, req.ContainerID)
	if err != nil {
		return nil, err
	}

	archive, err := singleFileArchive(req.Filename, []byte(req.CodeContent), 0644)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to package code block", err.Error(), "", err)
	}
	if err := h.containerRuntime.CopyTo(ctx, handle.ID, environment.WorkspacePath, archive); err != nil {
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to copy %s into container %s", req.Filename, handle.ID), err)
	}

	cmd := launcher.Command(req.Filename)
	if len(h.cfg.Exec.KillWrapper) > 0 {
		secs := strconv.Itoa(int(timeout.Seconds()))
		cmd = append(append(append([]string{}, h.cfg.Exec.KillWrapper...), secs), cmd...)
	}

	marker := RunMarkerEnv + "=" + uuid.NewString()

	slog.Info("Executing code block", "containerID", handle.ID, "file", req.Filename, "language", launcher.Language, "timeout", timeout)

	// The kill wrapper ends the process inside the container; the deadline only
	// stops waiting if the wrapper itself is missing or stuck.
	runCtx, cancel := context.WithTimeout(ctx, timeout+h.cfg.Timeouts.ExecGrace)
	defer cancel()

	var stdout, stderr bytes.Buffer
	start := time.Now()
	res, execErr := h.containerRuntime.Exec(runCtx, handle.ID, runtime.ExecOptions{
		Cmd:        cmd,
		WorkingDir: environment.WorkspacePath,
		Env:        []string{marker},
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	elapsed := time.Since(start)

	timedOut := false
	switch {
	case execErr == nil:
		timedOut = (res.ExitCode == TimeoutExitCode || res.ExitCode == killedExitCode) && elapsed >= timeout
	case errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil:
		timedOut = true
		elapsed = timeout
	default:
		if ctx.Err() != nil {
			h.reap(ctx, handle.ID, marker)
		}
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to run %s in container %s", req.Filename, handle.ID), execErr)
	}
	if timedOut {
		h.reap(ctx, handle.ID, marker)
	}

	log := &tools.ExecutionLog{
		ExitCode:      res.ExitCode,
		Stdout:        strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:        strings.ToValidUTF8(stderr.String(), "�"),
		ExecutionTime: formatDuration(elapsed),
	}
	if timedOut {
		log.ExitCode = TimeoutExitCode
		log.TimedOut = true
		if log.Stderr != "" && !strings.HasSuffix(log.Stderr, "\n") {
			log.Stderr += "\n"
		}
		log.Stderr += fmt.Sprintf("adde: execution timed out after %s\n", timeout)
		slog.Warn("Code block timed out", "containerID", handle.ID, "file", req.Filename, "timeout", timeout)
	}

	if err := h.persist(ctx, handle.ID, log); err != nil {
		slog.Warn("Failed to persist execution log", "containerID", handle.ID, "error", err)
	}
	return log, nil
}

// reapScript kills every process whose environment holds marker. The kill
// wrapper only signals the launcher, which leaves its children running.
func reapScript(marker string) string {
	return `for p in /proc/[0-9]*; do
  if tr '\0' '\n' < "$p/environ" 2>/dev/null | grep -qxF '` + marker + `'; then
    kill -KILL "${p#/proc/}" 2>/dev/null
  fi
done
exit 0`
}

// reap removes what is left of a run that timed out or was cancelled.
func (h *Harness) reap(ctx context.Context, containerID, marker string) {
	reapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reapTimeout)
	defer cancel()

	_, err := h.containerRuntime.Exec(reapCtx, containerID, runtime.ExecOptions{
		Cmd:        []string{"sh", "-c", reapScript(marker)},
		WorkingDir: "/",
	})
	if err != nil {
		slog.Warn("Failed to reap timed-out processes", "containerID", containerID, "error", err)
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// persist overwrites the environment's ExecutionLog.
func (h *Harness) persist(ctx context.Context, containerID string, log *tools.ExecutionLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}
	archive, err := singleFileArchive(LastRunFile, raw, 0644)
	if err != nil {
		return err
	}
	return h.containerRuntime.CopyTo(ctx, containerID, environment.WorkspacePath, archive)
}

// Logs returns the last ExecutionLog of an environment. tailLines > 0 keeps the
// last N lines of stdout and stderr independently.
func (h *Harness) Logs(ctx context.Context, containerID string, tailLines int) (*tools.ExecutionLog, error) {
	if tailLines < 0 {
		return nil, engerrors.NewInvalidArgumentError("Invalid tail_lines", "tail_lines must not be negative", "Use 0 for the full log", nil)
	}

	handle, err := h.resolver.Resolve(ctx, containerID)
	if err != nil {
		return nil, err
	}

	logPath := path.Join(environment.WorkspacePath, LastRunFile)
	rc, err := h.containerRuntime.CopyFrom(ctx, handle.ID, logPath)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, engerrors.NewNoExecutionError(
				fmt.Sprintf("Container %s has no execution log", handle.ID),
				"no code block has been executed in this environment",
				"Run execute_code_block first",
				err,
			)
		}
		return nil, engerrors.FromRuntime(fmt.Sprintf("Failed to read execution log of container %s", handle.ID), err)
	}
	defer rc.Close()

	raw, err := readSingleFile(rc)
	if err != nil {
		return nil, engerrors.NewIOError("Failed to read execution log", err.Error(), "", err)
	}

	var log tools.ExecutionLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, engerrors.NewIOError("Execution log is corrupt", err.Error(), "Run execute_code_block again to replace it", err)
	}

	if tailLines > 0 {
		log.Stdout = tail(log.Stdout, tailLines)
		log.Stderr = tail(log.Stderr, tailLines)
	}
	return &log, nil
}

// tail keeps the last n lines of s. A trailing newline does not count as an
// extra empty line.
func tail(s string, n int) string {
	trimmed := strings.TrimSuffix(s, "\n")
	if trimmed == "" {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return s
	}
	out := strings.Join(lines[len(lines)-n:], "\n")
	if len(trimmed) != len(s) {
		out += "\n"
	}
	return out
}
