package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/internal/runtime/runtimetest"
	"adde/pkg/runtime"
	"adde/pkg/tools"
)

type fakeInstaller struct {
	calls  int
	report *tools.DependencyReport
}

func (f *fakeInstaller) Install(_ context.Context, _, _ string, deps []string) *tools.DependencyReport {
	f.calls++
	if f.report != nil {
		return f.report
	}
	return &tools.DependencyReport{Installer: "pip", Packages: deps, OK: true}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Workspace.BaseDir = filepath.Join(t.TempDir(), "workspaces")
	return cfg
}

func managedInfo(id, workspace string, running bool) runtime.ContainerInfo {
	return runtime.ContainerInfo{
		ID:      id,
		Image:   "alpine:3.20",
		State:   map[bool]string{true: "running", false: "exited"}[running],
		Running: running,
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelWorkspace: workspace,
			LabelImage:     "alpine:3.20",
		},
	}
}

func TestCreate_Success(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	cfg := testConfig(t)
	installer := &fakeInstaller{}

	var captured runtime.ContainerSpec
	m.On("CreateContainer", mock.Anything, mock.AnythingOfType("runtime.ContainerSpec")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(runtime.ContainerSpec) }).
		Return("c1", nil).Once()
	m.On("StartContainer", mock.Anything, "c1").Return(nil).Once()

	mgr := NewManager(m, installer, cfg)
	result, err := mgr.Create(context.Background(), CreateRequest{
		Image:        "alpine:3.20",
		Dependencies: []string{"curl"},
		EnvVars:      map[string]string{"B": "2", "A": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", result.ContainerID)
	assert.Equal(t, WorkspacePath, result.Workspace)
	assert.DirExists(t, result.HostWorkspace)
	require.NotNil(t, result.Dependencies)
	assert.True(t, result.Dependencies.OK)
	assert.Contains(t, result.Dependencies.Warning, "network is disabled")
	assert.Equal(t, 1, installer.calls)

	assert.Equal(t, idleCommand, captured.Command)
	assert.Equal(t, WorkspacePath, captured.WorkingDir)
	assert.False(t, captured.NetworkEnabled)
	assert.True(t, captured.Init)
	assert.Equal(t, int64(512*1024*1024), captured.MemoryBytes)
	assert.Equal(t, int64(500_000_000), captured.NanoCPUs)
	assert.Equal(t, []string{"A=1", "B=2"}, captured.Env)
	assert.Equal(t, map[string]string{result.HostWorkspace: WorkspacePath}, captured.Binds)
	assert.Empty(t, captured.Ports)
	assert.Equal(t, ManagedByValue, captured.Labels[LabelManagedBy])
	assert.Equal(t, result.HostWorkspace, captured.Labels[LabelWorkspace])
	m.AssertExpectations(t)
}

func TestCreate_OverridesAndImageCmd(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	m.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec runtime.ContainerSpec) bool {
		return spec.Command == nil && spec.WorkingDir == "" && spec.NetworkEnabled &&
			spec.MemoryBytes == 1024*1024*1024 && spec.NanoCPUs == 2_000_000_000 &&
			len(spec.Ports) == 1 && spec.Ports[0] == runtime.PortBinding{ContainerPort: "3000", HostPort: "8080"}
	})).Return("c2", nil).Once()
	m.On("StartContainer", mock.Anything, "c2").Return(nil).Once()

	installer := &fakeInstaller{}
	mgr := NewManager(m, installer, testConfig(t))
	result, err := mgr.Create(context.Background(), CreateRequest{
		Image:       "node:20-alpine",
		Network:      true,
		PortBindings: map[string]string{"3000": "8080"},
		UseImageCmd:  true,
		MemoryMB:     1024,
		CPUs:         2,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Dependencies)
	assert.Zero(t, installer.calls)
	m.AssertExpectations(t)
}

func TestCreate_ValidationBeforeRuntime(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty image", CreateRequest{}},
		{"blank image", CreateRequest{Image: "   "}},
		{"malformed image", CreateRequest{Image: "UPPER/Case::tag"}},
		{"bad env key", CreateRequest{Image: "alpine", EnvVars: map[string]string{"1BAD": "x"}}},
		{"bad dependency", CreateRequest{Image: "alpine", Dependencies: []string{"--upgrade"}}},
		{"bad container port", CreateRequest{Image: "alpine", Network: true, PortBindings: map[string]string{"http": "80"}}},
		{"port range", CreateRequest{Image: "alpine", Network: true, PortBindings: map[string]string{"3000-3001": "80"}}},
		{"bad host port", CreateRequest{Image: "alpine", Network: true, PortBindings: map[string]string{"80": "70000"}}},
		{"zero host port", CreateRequest{Image: "alpine", Network: true, PortBindings: map[string]string{"80": "0"}}},
		{"ports without network", CreateRequest{Image: "alpine", PortBindings: map[string]string{"3000": "8080"}}},
		{"negative memory", CreateRequest{Image: "alpine", MemoryMB: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := runtimetest.NewMockRuntime()
			cfg := testConfig(t)
			_, err := NewManager(m, &fakeInstaller{}, cfg).Create(context.Background(), tt.req)

			require.Error(t, err)
			assert.True(t, errors.Is(err, engerrors.ErrInvalidArgument), "got %v", err)
			m.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
			assert.NoDirExists(t, cfg.Workspace.BaseDir)
		})
	}
}

func TestCreate_ImageNotFound(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	m.On("CreateContainer", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("failed to create container: %w", runtime.ErrNotFound)).Once()

	cfg := testConfig(t)
	_, err := NewManager(m, nil, cfg).Create(context.Background(), CreateRequest{Image: "nosuch/image:1"})

	require.Error(t, err)
	assert.Equal(t, "image_not_found", engerrors.KindOf(err))
	entries, _ := os.ReadDir(cfg.Workspace.BaseDir)
	assert.Empty(t, entries, "workspace should be removed on failure")
}

func TestCreate_RuntimeUnavailable(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	m.On("CreateContainer", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("dial unix: %w", runtime.ErrUnavailable)).Once()

	_, err := NewManager(m, nil, testConfig(t)).Create(context.Background(), CreateRequest{Image: "alpine"})
	assert.Equal(t, "runtime_unavailable", engerrors.KindOf(err))
}

func TestCreate_StartFailureRollsBack(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	m.On("CreateContainer", mock.Anything, mock.Anything).Return("c3", nil).Once()
	m.On("StartContainer", mock.Anything, "c3").Return(errors.New("port is already allocated")).Once()
	m.On("RemoveContainer", mock.Anything, "c3").Return(nil).Once()

	installer := &fakeInstaller{}
	cfg := testConfig(t)
	_, err := NewManager(m, installer, cfg).Create(context.Background(), CreateRequest{
		Image:        "alpine",
		Dependencies: []string{"curl"},
	})

	require.Error(t, err)
	assert.Equal(t, "runtime_failed", engerrors.KindOf(err))
	assert.Zero(t, installer.calls)
	entries, _ := os.ReadDir(cfg.Workspace.BaseDir)
	assert.Empty(t, entries)
	m.AssertExpectations(t)
}

func TestCreate_DependencyFailureIsNotFatal(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	m.On("CreateContainer", mock.Anything, mock.Anything).Return("c4", nil).Once()
	m.On("StartContainer", mock.Anything, "c4").Return(nil).Once()

	installer := &fakeInstaller{report: &tools.DependencyReport{Installer: "pip", OK: false, ExitCode: 1, Output: "No matching distribution"}}
	result, err := NewManager(m, installer, testConfig(t)).Create(context.Background(), CreateRequest{
		Image:        "python:3.12-slim",
		Dependencies: []string{"nonexistent-pkg-xyz"},
	})

	require.NoError(t, err)
	assert.Equal(t, "c4", result.ContainerID)
	require.NotNil(t, result.Dependencies)
	assert.False(t, result.Dependencies.OK)
	m.AssertNotCalled(t, "RemoveContainer", mock.Anything, mock.Anything)
}

func TestCleanup(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Workspace.BaseDir, 0755))
	ws, err := os.MkdirTemp(cfg.Workspace.BaseDir, "adde-ws-")
	require.NoError(t, err)

	m := runtimetest.NewMockRuntime()
	m.On("InspectContainer", mock.Anything, "c1").Return(managedInfo("c1", ws, true), nil).Once()
	m.On("StopContainer", mock.Anything, "c1", 5*time.Second).Return(errors.New("already stopping")).Once()
	m.On("RemoveContainer", mock.Anything, "c1").Return(nil).Once()

	require.NoError(t, NewManager(m, nil, cfg).Cleanup(context.Background(), "c1"))
	assert.NoDirExists(t, ws)
	m.AssertExpectations(t)
}

func TestCleanup_KeepsWorkspaceOutsideBase(t *testing.T) {
	outside := t.TempDir()

	m := runtimetest.NewMockRuntime()
	m.On("InspectContainer", mock.Anything, "c1").Return(managedInfo("c1", outside, false), nil).Once()
	m.On("RemoveContainer", mock.Anything, "c1").Return(nil).Once()

	require.NoError(t, NewManager(m, nil, testConfig(t)).Cleanup(context.Background(), "c1"))
	assert.DirExists(t, outside)
	m.AssertNotCalled(t, "StopContainer", mock.Anything, mock.Anything, mock.Anything)
}

func TestCleanup_UnknownIDIsNotFound(t *testing.T) {
	m := runtimetest.NewMockRuntime()
	m.On("InspectContainer", mock.Anything, "gone").
		Return(runtime.ContainerInfo{}, fmt.Errorf("no such container: %w", runtime.ErrNotFound)).Once()

	err := NewManager(m, nil, testConfig(t)).Cleanup(context.Background(), "gone")

	require.Error(t, err)
	assert.True(t, errors.Is(err, engerrors.ErrNotFound))
	assert.Equal(t, "not_found", engerrors.KindOf(err))
	m.AssertNotCalled(t, "RemoveContainer", mock.Anything, mock.Anything)
}

func TestList(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	info := managedInfo("c1", "/tmp/adde/workspaces/adde-ws-1", true)
	info.Created = created

	m := runtimetest.NewMockRuntime()
	m.On("ListContainers", mock.Anything, map[string]string{LabelManagedBy: ManagedByValue}).
		Return([]runtime.ContainerInfo{info}, nil).Once()

	envs, err := NewManager(m, nil, testConfig(t)).List(context.Background())
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, tools.RuntimeEnvSummary{
		ID:            "c1",
		Image:         "alpine:3.20",
		State:         "running",
		HostWorkspace: "/tmp/adde/workspaces/adde-ws-1",
		Created:       "2026-01-02T03:04:05Z",
	}, envs[0])
}

func TestIsWithin(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "srv", "adde")
	assert.True(t, isWithin(base, filepath.Join(base, "ws-1")))
	assert.True(t, isWithin(base, filepath.Join(base, "a", "b")))
	assert.False(t, isWithin(base, base))
	assert.False(t, isWithin(base, filepath.Join(base, "..", "etc")))
	assert.False(t, isWithin(base, filepath.Join(string(filepath.Separator), "srv", "adde-other")))
}
