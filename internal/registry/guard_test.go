package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/internal/runtime/runtimetest"
	"adde/pkg/runtime"
)

func newTestGuard() (*Guard, *runtimetest.MockRuntime, *config.Config) {
	cfg := config.Default()
	m := runtimetest.NewMockRuntime()
	return NewGuard(m, cfg), m, cfg
}

func TestPull(t *testing.T) {
	g, m, _ := newTestGuard()
	m.On("PullImage", mock.Anything, "python:3.12-slim", runtime.PullOptions{}).Return(nil)

	res, err := g.Pull(context.Background(), "  python:3.12-slim ")
	require.NoError(t, err)
	assert.True(t, res.OK)
	m.AssertExpectations(t)
}

func TestPull_UsesDockerHubCredentials(t *testing.T) {
	g, m, cfg := newTestGuard()
	cfg.Registry.DockerHub = config.Credentials{Username: "bot", Password: "s3cret"}

	var auth string
	m.On("PullImage", mock.Anything, "org/private:1", mock.Anything).Run(func(args mock.Arguments) {
		auth = args.Get(2).(runtime.PullOptions).RegistryAuth
	}).Return(nil)

	_, err := g.Pull(context.Background(), "org/private:1")
	require.NoError(t, err)
	require.NotEmpty(t, auth)

	decoded := decodeAuth(t, auth)
	assert.Equal(t, "bot", decoded["username"])
	assert.Equal(t, "s3cret", decoded["password"])
	assert.Equal(t, dockerHubServer, decoded["serveraddress"])
}

func TestPull_Errors(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		pullErr error
		kind    string
	}{
		{"empty", "   ", nil, "invalid_argument"},
		{"malformed", "UPPER/Case::x", nil, "invalid_argument"},
		{"missing by kind", "nosuch:1", fmt.Errorf("pull: %w", runtime.ErrNotFound), "image_not_found"},
		{"missing by message", "nosuch:1", fmt.Errorf("pull access denied for nosuch, repository does not exist"), "image_not_found"},
		{"daemon down", "alpine:3.20", fmt.Errorf("pull: %w", runtime.ErrUnavailable), "runtime_unavailable"},
		{"other failure", "alpine:3.20", fmt.Errorf("TLS handshake timeout"), "runtime_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, m, _ := newTestGuard()
			if tt.pullErr != nil {
				m.On("PullImage", mock.Anything, tt.image, mock.Anything).Return(tt.pullErr)
			}

			_, err := g.Pull(context.Background(), tt.image)
			require.Error(t, err)
			assert.Equal(t, tt.kind, engerrors.KindOf(err))
			if tt.pullErr == nil {
				m.AssertNotCalled(t, "PullImage", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestList(t *testing.T) {
	g, m, _ := newTestGuard()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.On("ListImages", mock.Anything).Return([]runtime.ImageInfo{
		{ID: "sha256:a", Tags: []string{"agent-env:t1", "mirror/t1:latest"}, Size: 2 << 20, Created: created},
		{ID: "sha256:b", Tags: []string{"python:3.12-slim"}, Size: 1 << 20},
		{ID: "sha256:c", Size: 10},
	}, nil)

	all, err := g.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all.Images, 3)
	assert.Equal(t, 2.0, all.Images[0].SizeMB)
	assert.Equal(t, "2026-01-02T03:04:05Z", all.Images[0].Created)
	assert.Equal(t, []string{}, all.Images[2].Tags)

	filtered, err := g.List(context.Background(), "agent-env:")
	require.NoError(t, err)
	require.Len(t, filtered.Images, 1)
	assert.Equal(t, "sha256:a", filtered.Images[0].ID)
	assert.Equal(t, []string{"agent-env:t1"}, filtered.Images[0].Tags)
}

func TestList_Empty(t *testing.T) {
	g, m, _ := newTestGuard()
	m.On("ListImages", mock.Anything).Return(nil, nil)

	res, err := g.List(context.Background(), "agent-env:")
	require.NoError(t, err)
	assert.NotNil(t, res.Images)
	assert.Empty(t, res.Images)
}

func TestDelete(t *testing.T) {
	g, m, _ := newTestGuard()
	m.On("RemoveImage", mock.Anything, "agent-env:t1", false).Return([]string{"untagged: agent-env:t1", "deleted: sha256:a"}, nil)

	res, err := g.Delete(context.Background(), "agent-env:t1", false)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Len(t, res.Deleted, 2)
}

func TestDelete_PolicyBeforeRuntime(t *testing.T) {
	for _, image := range []string{"python:3.12-slim", "", "sha256:abc", "my-agent-env:x"} {
		t.Run(image, func(t *testing.T) {
			g, m, _ := newTestGuard()
			_, err := g.Delete(context.Background(), image, true)
			require.Error(t, err)
			assert.Equal(t, "policy_violation", engerrors.KindOf(err))
			m.AssertNotCalled(t, "RemoveImage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDelete_RuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"in use", fmt.Errorf("remove: %w", runtime.ErrConflict), "conflict"},
		{"unknown", fmt.Errorf("remove: %w", runtime.ErrNotFound), "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, m, _ := newTestGuard()
			m.On("RemoveImage", mock.Anything, "agent-env:t1", false).Return(nil, tt.err)

			_, err := g.Delete(context.Background(), "agent-env:t1", false)
			require.Error(t, err)
			assert.Equal(t, tt.kind, engerrors.KindOf(err))
		})
	}
}

func TestPrune(t *testing.T) {
	tests := []struct {
		name  string
		hours int
		opts  runtime.PruneOptions
	}{
		{"all unused", 0, runtime.PruneOptions{All: true}},
		{"older than a day", 24, runtime.PruneOptions{All: true, Until: "24h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, m, _ := newTestGuard()
			m.On("PruneBuildCache", mock.Anything, tt.opts).
				Return(runtime.PruneReport{SpaceReclaimed: 5 << 20, CachesDeleted: []string{"a", "b"}}, nil)

			res, err := g.Prune(context.Background(), tt.hours)
			require.NoError(t, err)
			assert.Equal(t, 5.0, res.SpaceReclaimedMB)
			assert.Equal(t, 2, res.CachesDeleted)
			m.AssertExpectations(t)
		})
	}
}

func TestPrune_Negative(t *testing.T) {
	g, m, _ := newTestGuard()
	_, err := g.Prune(context.Background(), -1)
	require.Error(t, err)
	assert.Equal(t, "invalid_argument", engerrors.KindOf(err))
	m.AssertNotCalled(t, "PruneBuildCache", mock.Anything, mock.Anything)
}

func decodeAuth(t *testing.T, encoded string) map[string]string {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAuthFor(t *testing.T) {
	creds := config.Registry{
		DockerHub: config.Credentials{Username: "hub", Password: "hubpw"},
		URL:       "https://registry.example.com/",
		Username:  "reg",
		Password:  "regpw",
		ECR: config.ECR{
			Token:    "ecrtoken",
			Registry: "123456789012.dkr.ecr.us-east-1.amazonaws.com",
		},
	}

	tests := []struct {
		image    string
		username string
		server   string
	}{
		{"alpine:3.20", "hub", dockerHubServer},
		{"registry.example.com/team/app:1", "reg", "registry.example.com"},
		{"123456789012.dkr.ecr.us-east-1.amazonaws.com/app:1", "AWS", "123456789012.dkr.ecr.us-east-1.amazonaws.com"},
		{"ghcr.io/org/app:1", "", ""},
		{"999999999999.dkr.ecr.eu-west-1.amazonaws.com/app:1", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			ref, err := name.ParseReference(tt.image)
			require.NoError(t, err)

			auth, err := AuthFor(ref, creds)
			require.NoError(t, err)
			if tt.username == "" {
				assert.Empty(t, auth)
				return
			}
			decoded := decodeAuth(t, auth)
			assert.Equal(t, tt.username, decoded["username"])
			assert.Equal(t, tt.server, decoded["serveraddress"])
		})
	}
}

func TestAuthFor_NoCredentials(t *testing.T) {
	ref, err := name.ParseReference("alpine:3.20")
	require.NoError(t, err)
	auth, err := AuthFor(ref, config.Registry{})
	require.NoError(t, err)
	assert.Empty(t, auth)
}
