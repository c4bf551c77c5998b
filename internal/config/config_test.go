package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "adde/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Container)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.Build)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Exec)
	assert.Equal(t, time.Hour, cfg.Timeouts.ExecMax)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.StopGrace)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Clone)
	assert.Equal(t, int64(512), cfg.Limits.MemoryMB)
	assert.InDelta(t, 0.5, cfg.Limits.CPUs, 1e-9)
	assert.Equal(t, []string{"timeout", "-s", "KILL"}, cfg.Exec.KillWrapper)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "alpine:3.20", cfg.Templates.Alpine)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADDE_CONFIG", "")
	t.Setenv("ADDE_TIMEOUTS_BUILD", "15m")
	t.Setenv("ADDE_LIMITS_MEMORY_MB", "1024")
	t.Setenv("ADDE_LOG_LEVEL", "debug")
	t.Setenv("ADDE_DOCKERHUB_USERNAME", "agent")
	t.Setenv("ADDE_DOCKERHUB_PASSWORD", "secret")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Timeouts.Build)
	assert.Equal(t, int64(1024), cfg.Limits.MemoryMB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "agent", cfg.Registry.DockerHub.Username)
	assert.Equal(t, "secret", cfg.Registry.DockerHub.Password)
	assert.Equal(t, "eu-west-1", cfg.Registry.ECR.Region)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adde.yaml")
	content := `timeouts:
  exec: 45s
workspace:
  base_dir: /srv/adde/ws
templates:
  python: python:3.11-slim
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Timeouts.Exec)
	assert.Equal(t, "/srv/adde/ws", cfg.Workspace.BaseDir)
	assert.Equal(t, "python:3.11-slim", cfg.Templates.Python)
	assert.Equal(t, "node:20-alpine", cfg.Templates.Node)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	badLevel := filepath.Join(dir, "level.yaml")
	require.NoError(t, os.WriteFile(badLevel, []byte("log:\n  level: loud\n"), 0644))

	badYAML := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("timeouts: [unclosed\n"), 0644))

	tests := []struct {
		name          string
		path          string
		errorContains string
	}{
		{"missing file", filepath.Join(dir, "nope.yaml"), "config file not found"},
		{"invalid level", badLevel, "field 'log.level' must be one of"},
		{"malformed yaml", badYAML, "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, engerrors.ErrInvalidArgument))
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestResourceConversions(t *testing.T) {
	assert.Equal(t, int64(512*1024*1024), MemoryBytes(512))
	assert.Equal(t, int64(500_000_000), NanoCPUs(0.5))
	assert.Equal(t, int64(2_000_000_000), NanoCPUs(2))
}
