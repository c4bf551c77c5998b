package parser

import (
	"errors"
	"strings"
	"testing"

	engerrors "adde/internal/errors"
	"adde/pkg/tools"
)

func TestDecodeParams_Valid(t *testing.T) {
	var p tools.ExecuteCodeBlockParams
	err := DecodeParams("execute_code_block", []byte(`{"container_id":"abc","filename":"t.sh","code_content":"echo 42","timeout_sec":5}`), &p)
	if err != nil {
		t.Fatalf("Expected successful decoding, got error: %v", err)
	}

	if p.ContainerID != "abc" {
		t.Errorf("Expected ContainerID 'abc', got '%s'", p.ContainerID)
	}
	if p.CodeContent == nil || *p.CodeContent != "echo 42" {
		t.Errorf("Expected CodeContent 'echo 42', got %v", p.CodeContent)
	}
	if p.TimeoutSec != 5 {
		t.Errorf("Expected TimeoutSec 5, got %d", p.TimeoutSec)
	}
}

func TestDecodeParams_EmptyCodeContentAccepted(t *testing.T) {
	var p tools.ExecuteCodeBlockParams
	err := DecodeParams("execute_code_block", []byte(`{"container_id":"abc","filename":"t.sh","code_content":""}`), &p)
	if err != nil {
		t.Fatalf("Expected empty code_content to be accepted, got error: %v", err)
	}
}

func TestDecodeParams_EmptyPayloadIsEmptyObject(t *testing.T) {
	var p tools.ListAgentImagesParams
	if err := DecodeParams("list_agent_images", nil, &p); err != nil {
		t.Fatalf("Expected empty payload to decode, got error: %v", err)
	}
	if err := DecodeParams("list_agent_images", []byte("  \n"), &p); err != nil {
		t.Fatalf("Expected whitespace payload to decode, got error: %v", err)
	}
}

func TestDecodeParams_Errors(t *testing.T) {
	tests := []struct {
		name          string
		payload       string
		target        any
		errorContains string
	}{
		{
			name:          "missing required image",
			payload:       `{}`,
			target:        &tools.PullImageParams{},
			errorContains: "field 'image' is required but missing",
		},
		{
			name:          "empty image string",
			payload:       `{"image":""}`,
			target:        &tools.PullImageParams{},
			errorContains: "field 'image' is required but missing",
		},
		{
			name:          "missing code_content",
			payload:       `{"container_id":"abc","filename":"t.sh"}`,
			target:        &tools.ExecuteCodeBlockParams{},
			errorContains: "field 'code_content' is required but missing",
		},
		{
			name:          "negative tail lines",
			payload:       `{"container_id":"abc","tail_lines":-1}`,
			target:        &tools.GetContainerLogsParams{},
			errorContains: "field 'tail_lines' must be at least 0",
		},
		{
			name:          "timeout above maximum",
			payload:       `{"container_id":"abc","filename":"t.sh","code_content":"x","timeout_sec":7200}`,
			target:        &tools.ExecuteCodeBlockParams{},
			errorContains: "field 'timeout_sec' must be at most 3600",
		},
		{
			name:          "unknown field",
			payload:       `{"image":"busybox","tags":"x"}`,
			target:        &tools.PullImageParams{},
			errorContains: "unknown field",
		},
		{
			name:          "wrong type",
			payload:       `{"image":42}`,
			target:        &tools.PullImageParams{},
			errorContains: "field 'image' must be of type string",
		},
		{
			name:          "malformed JSON",
			payload:       `{"image":`,
			target:        &tools.PullImageParams{},
			errorContains: "unexpected EOF",
		},
		{
			name:          "trailing data",
			payload:       `{"image":"busybox"} {"image":"alpine"}`,
			target:        &tools.PullImageParams{},
			errorContains: "exactly one JSON object",
		},
		{
			name:          "invalid git url",
			payload:       `{"git_url":"not a url"}`,
			target:        &tools.PrepareBuildContextParams{},
			errorContains: "field 'git_url' must be a valid URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DecodeParams("tool", []byte(tt.payload), tt.target)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, engerrors.ErrInvalidArgument) {
				t.Errorf("Expected InvalidArgument, got %v", err)
			}
			if msg := engerrors.Message(err); !strings.Contains(msg, tt.errorContains) {
				t.Errorf("Expected message to contain '%s', got: %s", tt.errorContains, msg)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	err := Validate(&tools.ExecuteCodeBlockParams{TimeoutSec: -1})
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "validation errors:") {
		t.Errorf("Expected combined message, got: %s", msg)
	}
	for _, field := range []string{"container_id", "filename", "code_content", "timeout_sec"} {
		if !strings.Contains(msg, field) {
			t.Errorf("Expected message to mention %s, got: %s", field, msg)
		}
	}
}
