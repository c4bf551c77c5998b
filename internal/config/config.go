// Package config resolves the engine configuration once at startup from an
// optional YAML file and ADDE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	engerrors "adde/internal/errors"
	"adde/internal/parser"
)

// EnvPrefix prefixes every environment override, e.g. ADDE_TIMEOUTS_BUILD=15m.
const EnvPrefix = "ADDE"

// Config is passed explicitly into every engine component.
type Config struct {
	Timeouts  Timeouts  `mapstructure:"timeouts"`
	Limits    Limits    `mapstructure:"limits"`
	Workspace Workspace `mapstructure:"workspace"`
	Exec      Exec      `mapstructure:"exec"`
	Log       Log       `mapstructure:"log"`
	Registry  Registry  `mapstructure:"registry"`
	Git       Git       `mapstructure:"git"`
	Templates Templates `mapstructure:"templates"`
}

// Timeouts are the per-operation budgets.
type Timeouts struct {
	Container time.Duration `mapstructure:"container" validate:"gt=0"`
	Build     time.Duration `mapstructure:"build" validate:"gt=0"`
	Exec      time.Duration `mapstructure:"exec" validate:"gt=0"`
	ExecMax   time.Duration `mapstructure:"exec_max" validate:"gt=0"`
	ExecGrace time.Duration `mapstructure:"exec_grace" validate:"gte=0"`
	StopGrace time.Duration `mapstructure:"stop_grace" validate:"gte=0"`
	Install   time.Duration `mapstructure:"install" validate:"gt=0"`
	Clone     time.Duration `mapstructure:"clone" validate:"gt=0"`
}

// Limits are the default container resource ceilings.
type Limits struct {
	MemoryMB int64   `mapstructure:"memory_mb" validate:"min=6"`
	CPUs     float64 `mapstructure:"cpus" validate:"gt=0"`
}

type Workspace struct {
	// BaseDir holds per-environment host workspaces bind-mounted at /workspace.
	BaseDir string `mapstructure:"base_dir" validate:"required"`
	// StagingDir holds build contexts created by prepare_build_context.
	StagingDir string `mapstructure:"staging_dir" validate:"required"`
}

type Exec struct {
	// KillWrapper prefixes every command; the timeout in seconds is appended.
	KillWrapper []string `mapstructure:"kill_wrapper" validate:"required,min=1"`
}

type Log struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Registry carries pull credentials for Docker Hub, one generic registry and ECR.
type Registry struct {
	DockerHub Credentials `mapstructure:"dockerhub"`
	URL       string      `mapstructure:"url"`
	Username  string      `mapstructure:"username"`
	Password  string      `mapstructure:"password"`
	ECR       ECR         `mapstructure:"ecr"`
}

type ECR struct {
	Token    string `mapstructure:"token"`
	Registry string `mapstructure:"registry"`
	Region   string `mapstructure:"region"`
}

// Git carries HTTP basic credentials for cloning private build sources.
type Git struct {
	Username string `mapstructure:"username"`
	Token    string `mapstructure:"token"`
}

// Templates are the base images of synthesized Dockerfiles.
type Templates struct {
	Python string `mapstructure:"python" validate:"required"`
	Node   string `mapstructure:"node" validate:"required"`
	Go     string `mapstructure:"go" validate:"required"`
	Ruby   string `mapstructure:"ruby" validate:"required"`
	Alpine string `mapstructure:"alpine" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	base := filepath.Join(os.TempDir(), "adde")

	v.SetDefault("timeouts.container", 2*time.Minute)
	v.SetDefault("timeouts.build", 10*time.Minute)
	v.SetDefault("timeouts.exec", 30*time.Second)
	v.SetDefault("timeouts.exec_max", time.Hour)
	v.SetDefault("timeouts.exec_grace", 10*time.Second)
	v.SetDefault("timeouts.stop_grace", 5*time.Second)
	v.SetDefault("timeouts.install", 5*time.Minute)
	v.SetDefault("timeouts.clone", 5*time.Minute)

	v.SetDefault("limits.memory_mb", 512)
	v.SetDefault("limits.cpus", 0.5)

	v.SetDefault("workspace.base_dir", filepath.Join(base, "workspaces"))
	v.SetDefault("workspace.staging_dir", filepath.Join(base, "contexts"))

	v.SetDefault("exec.kill_wrapper", []string{"timeout", "-s", "KILL"})

	v.SetDefault("log.dir", "")
	v.SetDefault("log.level", "warn")

	v.SetDefault("git.username", "")
	v.SetDefault("git.token", "")

	v.SetDefault("templates.python", "python:3.12-slim")
	v.SetDefault("templates.node", "node:20-alpine")
	v.SetDefault("templates.go", "golang:1.22-alpine")
	v.SetDefault("templates.ruby", "ruby:3.3-alpine")
	v.SetDefault("templates.alpine", "alpine:3.20")
}

// legacyEnv binds registry keys to the variable names deployments already use.
var legacyEnv = map[string][]string{
	"registry.dockerhub.username": {"ADDE_DOCKERHUB_USERNAME"},
	"registry.dockerhub.password": {"ADDE_DOCKERHUB_PASSWORD"},
	"registry.url":                {"ADDE_REGISTRY_URL"},
	"registry.username":           {"ADDE_REGISTRY_USERNAME"},
	"registry.password":           {"ADDE_REGISTRY_PASSWORD"},
	"registry.ecr.token":          {"ADDE_ECR_TOKEN"},
	"registry.ecr.registry":       {"ADDE_ECR_REGISTRY"},
	"registry.ecr.region":         {"ADDE_REGISTRY_ECR_REGION", "AWS_REGION"},
}

// Load reads the configuration. An empty path falls back to $ADDE_CONFIG; with
// neither set only defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, engerrors.NewInvalidArgumentError(
				"Configuration file not found",
				fmt.Sprintf("cannot read %s", path),
				"Check the --config flag or ADDE_CONFIG",
				fmt.Errorf("config file not found: %s", path),
			)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, engerrors.NewInvalidArgumentError(
				"Failed to read configuration",
				err.Error(),
				"Fix the YAML syntax of the configuration file",
				fmt.Errorf("failed to read config file: %w", err),
			)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engerrors.NewInvalidArgumentError(
			"Failed to parse configuration",
			err.Error(),
			"Check value types, durations use Go syntax such as 90s or 10m",
			fmt.Errorf("malformed config: %w", err),
		)
	}

	if err := parser.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MemoryBytes converts a megabyte ceiling into bytes.
func MemoryBytes(mb int64) int64 {
	return mb * 1024 * 1024
}

// NanoCPUs converts a fractional CPU count into the runtime's nano-CPU unit.
func NanoCPUs(cpus float64) int64 {
	return int64(cpus * 1e9)
}

// Default returns the built-in configuration without consulting the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	return &cfg
}
