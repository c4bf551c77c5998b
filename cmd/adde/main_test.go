package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ADDE_CONFIG", "")
	t.Setenv("ADDE_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("ADDE_WORKSPACE_STAGING_DIR", filepath.Join(dir, "contexts"))
	t.Setenv("ADDE_WORKSPACE_BASE_DIR", filepath.Join(dir, "workspaces"))
	return dir
}

func invokeCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no tool", nil},
		{"unknown tool", []string{"launch_rocket"}},
		{"too many arguments", []string{"pull_image", "{}", "{}"}},
		{"unknown flag", []string{"--verbose", "pull_image"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := invokeCLI(t, "", tt.args...)
			assert.Equal(t, 2, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "usage: adde <tool> [json_payload]")
			assert.Contains(t, stderr, "execute_code_block")
		})
	}
}

func TestRun_InvalidPayload(t *testing.T) {
	isolate(t)

	code, stdout, _ := invokeCLI(t, "", "pull_image", `{"image":`)
	assert.Equal(t, 1, code)

	var reply map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &reply))
	assert.Equal(t, "invalid_argument", reply["error_kind"])
	assert.NotEmpty(t, reply["error"])
}

func TestRun_PayloadFromStdin(t *testing.T) {
	dir := isolate(t)

	code, stdout, stderr := invokeCLI(t, `{"files":{"run.sh":"echo hi\n"}}`, "prepare_build_context")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var reply struct {
		ContextID string `json:"context_id"`
		Template  string `json:"template"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &reply))
	assert.Equal(t, "shell", reply.Template)
	assert.True(t, strings.HasPrefix(reply.ContextID, filepath.Join(dir, "contexts")))
}

func TestRun_MissingConfigFile(t *testing.T) {
	isolate(t)

	code, stdout, _ := invokeCLI(t, "", "--config", "/nonexistent/adde.yaml", "list_runtime_envs")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"error_kind":"invalid_argument"`)
}

func TestRun_ErrorLogWritten(t *testing.T) {
	dir := isolate(t)

	code, _, stderr := invokeCLI(t, "", "delete_image", `{"image":"alpine:3.20"}`)
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, strings.Count(stderr, "Refusing to delete"), "stderr: %s", stderr)
	assert.NotContains(t, stderr, "Tool failed")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "adde.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool":"delete_image"`)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", logLevel("debug").String())
	assert.Equal(t, "WARN", logLevel("warn").String())
	assert.Equal(t, "INFO", logLevel("bogus").String())
}
