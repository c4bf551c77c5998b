// Package runtimetest provides a testify mock of runtime.ContainerRuntime.
package runtimetest

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"adde/pkg/runtime"
)

// MockRuntime is a mock implementation of the ContainerRuntime interface.
type MockRuntime struct {
	*mock.Mock
}

var _ runtime.ContainerRuntime = (*MockRuntime)(nil)

func NewMockRuntime() *MockRuntime {
	return &MockRuntime{Mock: &mock.Mock{}}
}

// ReadCloser wraps data as a stream for mocked CopyFrom and BuildImage calls.
func ReadCloser(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

func (m *MockRuntime) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRuntime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) StartContainer(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRuntime) InspectContainer(ctx context.Context, id string) (runtime.ContainerInfo, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(runtime.ContainerInfo), args.Error(1)
}

func (m *MockRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	args := m.Called(ctx, id, timeout)
	return args.Error(0)
}

func (m *MockRuntime) RemoveContainer(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]runtime.ContainerInfo, error) {
	args := m.Called(ctx, labels)
	infos, _ := args.Get(0).([]runtime.ContainerInfo)
	return infos, args.Error(1)
}

func (m *MockRuntime) Exec(ctx context.Context, id string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	args := m.Called(ctx, id, opts)
	return args.Get(0).(runtime.ExecResult), args.Error(1)
}

func (m *MockRuntime) CopyTo(ctx context.Context, id, dstDir string, archive io.Reader) error {
	args := m.Called(ctx, id, dstDir, archive)
	return args.Error(0)
}

func (m *MockRuntime) CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, id, path)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockRuntime) PullImage(ctx context.Context, ref string, opts runtime.PullOptions) error {
	args := m.Called(ctx, ref, opts)
	return args.Error(0)
}

func (m *MockRuntime) BuildImage(ctx context.Context, buildContext io.Reader, opts runtime.BuildOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, buildContext, opts)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockRuntime) InspectImage(ctx context.Context, ref string) (runtime.ImageInfo, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(runtime.ImageInfo), args.Error(1)
}

func (m *MockRuntime) ListImages(ctx context.Context) ([]runtime.ImageInfo, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]runtime.ImageInfo)
	return infos, args.Error(1)
}

func (m *MockRuntime) RemoveImage(ctx context.Context, ref string, force bool) ([]string, error) {
	args := m.Called(ctx, ref, force)
	removed, _ := args.Get(0).([]string)
	return removed, args.Error(1)
}

func (m *MockRuntime) PruneBuildCache(ctx context.Context, opts runtime.PruneOptions) (runtime.PruneReport, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(runtime.PruneReport), args.Error(1)
}
