package registry

import (
	"strings"

	"github.com/docker/docker/api/types/registry"
	"github.com/google/go-containerregistry/pkg/name"

	"adde/internal/config"
)

const dockerHubServer = "https://index.docker.io/v1/"

// AuthFor returns the encoded credentials the daemon should present when
// pulling ref, or "" when none are configured for its registry.
func AuthFor(ref name.Reference, creds config.Registry) (string, error) {
	host := ref.Context().RegistryStr()

	var auth registry.AuthConfig
	switch {
	case isECR(host):
		if creds.ECR.Token == "" {
			return "", nil
		}
		if creds.ECR.Registry != "" && normalizeHost(creds.ECR.Registry) != host {
			return "", nil
		}
		auth = registry.AuthConfig{Username: "AWS", Password: creds.ECR.Token, ServerAddress: host}

	case host == name.DefaultRegistry:
		if creds.DockerHub.Username == "" || creds.DockerHub.Password == "" {
			return "", nil
		}
		auth = registry.AuthConfig{
			Username:      creds.DockerHub.Username,
			Password:      creds.DockerHub.Password,
			ServerAddress: dockerHubServer,
		}

	default:
		if creds.URL == "" || normalizeHost(creds.URL) != host || creds.Username == "" || creds.Password == "" {
			return "", nil
		}
		auth = registry.AuthConfig{Username: creds.Username, Password: creds.Password, ServerAddress: host}
	}

	return registry.EncodeAuthConfig(auth)
}

func isECR(host string) bool {
	return strings.Contains(host, ".dkr.ecr.") && strings.HasSuffix(host, ".amazonaws.com")
}

// normalizeHost strips the scheme and any path from a configured registry URL.
func normalizeHost(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	if i := strings.Index(u, "/"); i >= 0 {
		u = u[:i]
	}
	return u
}
