package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"adde/pkg/runtime"
)

// DockerRuntime implements the ContainerRuntime interface using the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a client from the environment (DOCKER_HOST etc.).
// No connection is made; an unreachable daemon surfaces as ErrUnavailable from
// the first call.
func NewDockerRuntime() (*DockerRuntime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w: %w", runtime.ErrUnavailable, err)
	}
	return &DockerRuntime{client: dockerClient}, nil
}

// Close releases the underlying HTTP client.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to Docker daemon: %w: %w", runtime.ErrUnavailable, err)
	}
	return nil
}

// mapError tags a daemon error with the runtime sentinel matching its class.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errdefs.IsNotFound(err) || client.IsErrNotFound(err):
		return fmt.Errorf("%s: %w: %w", msg, runtime.ErrNotFound, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%s: %w: %w", msg, runtime.ErrConflict, err)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%s: %w: %w", msg, runtime.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	slog.Info("Creating container", "image", spec.Image, "command", spec.Command)

	var mounts []mount.Mount
	for hostPath, containerPath := range spec.Binds {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: hostPath,
			Target: containerPath,
		})
	}

	exposed, bindings, err := portMaps(spec.Ports)
	if err != nil {
		return "", err
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}

	useInit := spec.Init
	hostConfig := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
		Init:         &useInit,
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}
	if !spec.NetworkEnabled {
		hostConfig.NetworkMode = container.NetworkMode("none")
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", mapError(err, "failed to create container from %s", spec.Image)
	}
	for _, warning := range resp.Warnings {
		slog.Warn("Container create warning", "containerID", resp.ID, "warning", warning)
	}
	return resp.ID, nil
}

// portMaps converts bindings into the exposed-port set and host bindings. Host
// ports are published on the loopback interface only.
func portMaps(ports []runtime.PortBinding) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto, port := nat.SplitProtoPort(p.ContainerPort)
		natPort, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %q: %w", p.ContainerPort, err)
		}
		if _, err := nat.ParsePort(p.HostPort); err != nil {
			return nil, nil, fmt.Errorf("invalid host port %q: %w", p.HostPort, err)
		}
		exposed[natPort] = struct{}{}
		bindings[natPort] = append(bindings[natPort], nat.PortBinding{HostIP: "127.0.0.1", HostPort: p.HostPort})
	}
	return exposed, bindings, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return mapError(err, "failed to start container %s", id)
	}
	return nil
}

func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (runtime.ContainerInfo, error) {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return runtime.ContainerInfo{}, mapError(err, "failed to inspect container %s", id)
	}

	info := runtime.ContainerInfo{
		ID:   inspect.ID,
		Name: inspect.Name,
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
		info.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		info.State = inspect.State.Status
		info.Running = inspect.State.Running
	}
	info.Created, _ = time.Parse(time.RFC3339Nano, inspect.Created)
	return info, nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return mapError(err, "failed to stop container %s", id)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return mapError(err, "failed to remove container %s", id)
	}
	return nil
}

func (d *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]runtime.ContainerInfo, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}

	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, mapError(err, "failed to list containers")
	}

	infos := make([]runtime.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		infos = append(infos, runtime.ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   c.State,
			Running: c.State == "running",
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0).UTC(),
		})
	}
	return infos, nil
}

// Exec runs opts.Cmd in the container and waits for it to exit. If ctx ends
// first the attached stream is closed and ctx's error is returned; the process
// itself is left to whatever kill wrapper the caller put around it.
func (d *DockerRuntime) Exec(ctx context.Context, id string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	createResp, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return runtime.ExecResult{ExitCode: -1}, mapError(err, "failed to create exec in container %s", id)
	}

	// Attaching starts the process with the output stream already hijacked.
	resp, err := d.client.ContainerExecAttach(ctx, createResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecResult{ExitCode: -1}, mapError(err, "failed to start exec in container %s", id)
	}
	defer resp.Close()

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout, stderr, resp.Reader)
		done <- copyErr
	}()

	select {
	case copyErr := <-done:
		if copyErr != nil && !errors.Is(copyErr, io.EOF) {
			return runtime.ExecResult{ExitCode: -1}, fmt.Errorf("failed to read exec output: %w", copyErr)
		}
	case <-ctx.Done():
		resp.Close()
		<-done
		return runtime.ExecResult{ExitCode: -1}, ctx.Err()
	}

	// The stream can close a moment before the daemon records the exit code.
	for i := 0; i < 20; i++ {
		inspect, err := d.client.ContainerExecInspect(ctx, createResp.ID)
		if err != nil {
			return runtime.ExecResult{ExitCode: -1}, mapError(err, "failed to inspect exec in container %s", id)
		}
		if !inspect.Running {
			return runtime.ExecResult{ExitCode: inspect.ExitCode}, nil
		}
		select {
		case <-ctx.Done():
			return runtime.ExecResult{ExitCode: -1}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return runtime.ExecResult{ExitCode: -1}, fmt.Errorf("exec in container %s did not report an exit code", id)
}

func (d *DockerRuntime) CopyTo(ctx context.Context, id, dstDir string, archive io.Reader) error {
	if err := d.client.CopyToContainer(ctx, id, dstDir, archive, container.CopyToContainerOptions{}); err != nil {
		return mapError(err, "failed to copy into container %s:%s", id, dstDir)
	}
	return nil
}

func (d *DockerRuntime) CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error) {
	reader, _, err := d.client.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, mapError(err, "failed to copy %s from container %s", path, id)
	}
	return reader, nil
}

// PullImage pulls an image and drains the progress stream.
func (d *DockerRuntime) PullImage(ctx context.Context, ref string, opts runtime.PullOptions) error {
	slog.Info("Pulling Docker image", "image", ref)

	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: opts.RegistryAuth})
	if err != nil {
		return mapError(err, "failed to pull image %s", ref)
	}
	defer reader.Close()

	if err := drainPullStream(reader); err != nil {
		return mapError(err, "failed to pull image %s", ref)
	}

	slog.Info("Successfully pulled Docker image", "image", ref)
	return nil
}

// drainPullStream consumes pull progress, surfacing an error message embedded in
// the stream.
func drainPullStream(r io.Reader) error {
	return jsonmessage.DisplayJSONMessagesStream(r, io.Discard, 0, false, nil)
}

func (d *DockerRuntime) BuildImage(ctx context.Context, buildContext io.Reader, opts runtime.BuildOptions) (io.ReadCloser, error) {
	slog.Info("Building Docker image", "tags", opts.Tags)

	buildArgs := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		value := v
		buildArgs[k] = &value
	}

	resp, err := d.client.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        opts.Tags,
		Dockerfile:  opts.Dockerfile,
		BuildArgs:   buildArgs,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return nil, mapError(err, "failed to start image build")
	}
	return resp.Body, nil
}

func (d *DockerRuntime) InspectImage(ctx context.Context, ref string) (runtime.ImageInfo, error) {
	inspect, _, err := d.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return runtime.ImageInfo{}, mapError(err, "failed to inspect image %s", ref)
	}
	created, _ := time.Parse(time.RFC3339Nano, inspect.Created)
	return runtime.ImageInfo{
		ID:      inspect.ID,
		Tags:    inspect.RepoTags,
		Size:    inspect.Size,
		Created: created,
	}, nil
}

func (d *DockerRuntime) ListImages(ctx context.Context) ([]runtime.ImageInfo, error) {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, mapError(err, "failed to list images")
	}

	infos := make([]runtime.ImageInfo, 0, len(images))
	for _, img := range images {
		infos = append(infos, runtime.ImageInfo{
			ID:      img.ID,
			Tags:    img.RepoTags,
			Size:    img.Size,
			Created: time.Unix(img.Created, 0).UTC(),
		})
	}
	return infos, nil
}

func (d *DockerRuntime) RemoveImage(ctx context.Context, ref string, force bool) ([]string, error) {
	responses, err := d.client.ImageRemove(ctx, ref, image.RemoveOptions{Force: force, PruneChildren: true})
	if err != nil {
		return nil, mapError(err, "failed to remove image %s", ref)
	}

	var removed []string
	for _, r := range responses {
		if r.Untagged != "" {
			removed = append(removed, r.Untagged)
		}
		if r.Deleted != "" {
			removed = append(removed, r.Deleted)
		}
	}
	return removed, nil
}

func (d *DockerRuntime) PruneBuildCache(ctx context.Context, opts runtime.PruneOptions) (runtime.PruneReport, error) {
	args := filters.NewArgs()
	if opts.Until != "" {
		args.Add("until", opts.Until)
	}

	report, err := d.client.BuildCachePrune(ctx, types.BuildCachePruneOptions{
		All:     opts.All,
		Filters: args,
	})
	if err != nil {
		return runtime.PruneReport{}, mapError(err, "failed to prune build cache")
	}
	if report == nil {
		return runtime.PruneReport{}, nil
	}
	return runtime.PruneReport{
		SpaceReclaimed: report.SpaceReclaimed,
		CachesDeleted:  report.CachesDeleted,
	}, nil
}
