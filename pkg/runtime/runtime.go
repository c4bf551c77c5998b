// Package runtime defines the narrow capability interface the engine uses to
// drive a container daemon, together with its option and result types.
package runtime

import (
	"context"
	"errors"
	"io"
	"time"
)

// Errors every ContainerRuntime implementation maps daemon failures onto.
var (
	ErrNotFound    = errors.New("runtime: object not found")
	ErrConflict    = errors.New("runtime: conflict")
	ErrUnavailable = errors.New("runtime: daemon unavailable")
)

// PortBinding publishes a container port ("8080" or "8080/tcp") on a host port.
type PortBinding struct {
	ContainerPort string
	HostPort      string
}

// ContainerSpec defines the parameters for creating a container.
type ContainerSpec struct {
	Image      string
	Command    []string
	WorkingDir string
	Env        []string
	Labels     map[string]string
	// Binds maps host paths to container paths.
	Binds          map[string]string
	Ports          []PortBinding
	NetworkEnabled bool
	MemoryBytes    int64
	NanoCPUs       int64
	Init           bool
}

type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	State   string
	Running bool
	Labels  map[string]string
	Created time.Time
}

// ExecOptions describes one process run inside a running container. Stdout and
// Stderr receive the demultiplexed streams.
type ExecOptions struct {
	Cmd        []string
	WorkingDir string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
}

type ExecResult struct {
	ExitCode int
}

type PullOptions struct {
	// RegistryAuth is the base64url-encoded auth config sent with the pull.
	RegistryAuth string
}

type BuildOptions struct {
	Tags      []string
	BuildArgs map[string]string
	// Dockerfile is relative to the context root.
	Dockerfile string
}

type ImageInfo struct {
	ID      string
	Tags    []string
	Size    int64
	Created time.Time
}

type PruneOptions struct {
	All bool
	// Until limits pruning to cache older than the duration, e.g. "24h".
	Until string
}

type PruneReport struct {
	SpaceReclaimed uint64
	CachesDeleted  []string
}

// ContainerRuntime defines the contract for container and image operations.
type ContainerRuntime interface {
	Ping(ctx context.Context) error

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (ContainerInfo, error)
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)

	Exec(ctx context.Context, id string, opts ExecOptions) (ExecResult, error)
	CopyTo(ctx context.Context, id, dstDir string, archive io.Reader) error
	CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error)

	PullImage(ctx context.Context, ref string, opts PullOptions) error
	// BuildImage returns the daemon's JSON message stream. Closing it aborts the build.
	BuildImage(ctx context.Context, buildContext io.Reader, opts BuildOptions) (io.ReadCloser, error)
	InspectImage(ctx context.Context, ref string) (ImageInfo, error)
	ListImages(ctx context.Context) ([]ImageInfo, error)
	RemoveImage(ctx context.Context, ref string, force bool) ([]string, error)
	PruneBuildCache(ctx context.Context, opts PruneOptions) (PruneReport, error)
}
