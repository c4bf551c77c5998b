// Package tools holds the JSON parameters and results of every engine tool.
package tools

import "encoding/json"

// Failure is embedded in every result. It is set only when the tool failed.
type Failure struct {
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Fail records a failure of the given kind on the result.
func (f *Failure) Fail(kind, message string) {
	f.ErrorKind = kind
	f.Error = message
}

// Failable is a result that can carry a failure next to its partial data.
type Failable interface {
	Fail(kind, message string)
}

// ---- Runtime environments ----

// CreateRuntimeEnvParams defines parameters for create_runtime_env.
type CreateRuntimeEnvParams struct {
	Image        string            `json:"image" validate:"required"`
	Dependencies []string          `json:"dependencies,omitempty"`
	EnvVars      map[string]string `json:"env_vars,omitempty"`
	Network      bool              `json:"network,omitempty"`
	// PortBindings maps container port ("3000" or "3000/tcp") to host port.
	// Host ports may be given as JSON numbers or strings.
	PortBindings map[string]json.Number `json:"port_bindings,omitempty"`
	UseImageCmd  bool                   `json:"use_image_cmd,omitempty"`
	MemoryMB     int64                  `json:"memory_mb,omitempty" validate:"omitempty,min=6"`
	CPUs         float64                `json:"cpus,omitempty" validate:"omitempty,gt=0,lte=64"`
}

// DependencyReport is the outcome of the post-create dependency install.
type DependencyReport struct {
	Installer string   `json:"installer"`
	Packages  []string `json:"packages"`
	OK        bool     `json:"ok"`
	ExitCode  int      `json:"exit_code"`
	Output    string   `json:"output,omitempty"`
	Error     string   `json:"error,omitempty"`
	Warning   string   `json:"warning,omitempty"`
}

type CreateRuntimeEnvResult struct {
	Failure
	ContainerID   string            `json:"container_id,omitempty"`
	Workspace     string            `json:"workspace,omitempty"`
	HostWorkspace string            `json:"host_workspace,omitempty"`
	Dependencies  *DependencyReport `json:"dependencies,omitempty"`
}

type CleanupEnvParams struct {
	ContainerID string `json:"container_id" validate:"required"`
}

// OKResult is the result of tools that only acknowledge success.
type OKResult struct {
	Failure
	OK bool `json:"ok,omitempty"`
}

type ListRuntimeEnvsParams struct{}

type RuntimeEnvSummary struct {
	ID            string `json:"id"`
	Image         string `json:"image"`
	State         string `json:"state"`
	HostWorkspace string `json:"host_workspace,omitempty"`
	Created       string `json:"created,omitempty"`
}

type ListRuntimeEnvsResult struct {
	Failure
	Environments []RuntimeEnvSummary `json:"environments"`
}

// ---- Execution ----

// ExecuteCodeBlockParams defines parameters for execute_code_block.
// CodeContent is a pointer so an explicit empty script is accepted while a
// missing field is not.
type ExecuteCodeBlockParams struct {
	ContainerID string  `json:"container_id" validate:"required"`
	Filename    string  `json:"filename" validate:"required"`
	CodeContent *string `json:"code_content" validate:"required"`
	TimeoutSec  int     `json:"timeout_sec,omitempty" validate:"gte=0,lte=3600"`
}

// ExecutionLog is the structured record of the last execution in an environment.
type ExecutionLog struct {
	ExitCode      int    `json:"exit_code"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExecutionTime string `json:"execution_time"`
	TimedOut      bool   `json:"timed_out"`
}

type GetContainerLogsParams struct {
	ContainerID string `json:"container_id" validate:"required"`
	TailLines   int    `json:"tail_lines,omitempty" validate:"gte=0"`
}

// LogResult is returned by execute_code_block and get_container_logs.
type LogResult struct {
	Failure
	Log *ExecutionLog `json:"log,omitempty"`
}

// ---- Build ----

// PrepareBuildContextParams defines parameters for prepare_build_context.
// Files maps relative paths to content; SourcePath and GitURL seed the context
// before Files are written.
type PrepareBuildContextParams struct {
	Files      map[string]string `json:"files,omitempty"`
	ContextID  string            `json:"context_id,omitempty"`
	SourcePath string            `json:"source_path,omitempty"`
	GitURL     string            `json:"git_url,omitempty" validate:"omitempty,url"`
	GitRef     string            `json:"git_ref,omitempty"`
}

type PrepareBuildContextResult struct {
	Failure
	ContextID           string `json:"context_id,omitempty"`
	DockerfileGenerated bool   `json:"dockerfile_generated,omitempty"`
	Template            string `json:"template,omitempty"`
}

// BuildImageFromContextParams builds a staged context. Tag is optional; an
// empty tag becomes agent-env:build-<unix seconds> and a bare name gets the
// agent-env: namespace prepended.
type BuildImageFromContextParams struct {
	ContextID string            `json:"context_id" validate:"required"`
	Tag       string            `json:"tag,omitempty"`
	BuildArgs map[string]string `json:"build_args,omitempty"`
}

// BuildImageFromPathParams builds a host directory. Tag follows the same
// defaulting as BuildImageFromContextParams.
type BuildImageFromPathParams struct {
	Path      string            `json:"path" validate:"required"`
	Tag       string            `json:"tag,omitempty"`
	BuildArgs map[string]string `json:"build_args,omitempty"`
}

const (
	BuildStatusSuccess = "success"
	BuildStatusFailed  = "failed"
)

// BuildResult is returned by both build tools. A failed build keeps its
// summary and failing layer next to the error.
type BuildResult struct {
	Failure
	Status          string  `json:"status"`
	ImageID         string  `json:"image_id,omitempty"`
	Tag             string  `json:"tag,omitempty"`
	SizeMB          float64 `json:"size_mb,omitempty"`
	ContextDigest   string  `json:"context_digest,omitempty"`
	FailedLayer     string  `json:"failed_layer,omitempty"`
	BuildLogSummary string  `json:"build_log_summary"`
}

// Fail marks the build as failed in addition to recording the error.
func (r *BuildResult) Fail(kind, message string) {
	r.Status = BuildStatusFailed
	r.Failure.Fail(kind, message)
}

// ---- Images ----

type PullImageParams struct {
	Image string `json:"image" validate:"required"`
}

type ListAgentImagesParams struct {
	FilterTag string `json:"filter_tag,omitempty"`
}

type ImageSummary struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags"`
	SizeMB  float64  `json:"size_mb"`
	Created string   `json:"created,omitempty"`
}

type ListAgentImagesResult struct {
	Failure
	Images []ImageSummary `json:"images"`
}

type PruneBuildCacheParams struct {
	// OlderThanHrs of 0 prunes all unused build cache.
	OlderThanHrs int `json:"older_than_hrs,omitempty" validate:"gte=0"`
}

type PruneBuildCacheResult struct {
	Failure
	SpaceReclaimedMB float64 `json:"space_reclaimed_mb"`
	CachesDeleted    int     `json:"caches_deleted"`
}

type DeleteImageParams struct {
	Image string `json:"image" validate:"required"`
	Force bool   `json:"force,omitempty"`
}

type DeleteImageResult struct {
	Failure
	OK      bool     `json:"ok,omitempty"`
	Deleted []string `json:"deleted,omitempty"`
}
