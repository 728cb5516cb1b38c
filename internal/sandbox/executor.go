package sandbox

import (
	"context"
	"fmt"

	crewerrors "crew/internal/errors"
	"crew/internal/security"
)

// Mode selects which sandbox backend runs agent commands.
type Mode string

const (
	ModeNative       Mode = "native"
	ModeDocker       Mode = "docker"
	ModeDevcontainer Mode = "devcontainer"
	ModeAuto         Mode = "auto"
)

func (m Mode) String() string { return string(m) }

// Valid reports whether the mode is one of the recognized values.
func (m Mode) Valid() bool {
	switch m {
	case ModeNative, ModeDocker, ModeDevcontainer, ModeAuto:
		return true
	}
	return false
}

// NetworkPolicy controls container network access.
type NetworkPolicy string

const (
	NetworkDisabled NetworkPolicy = "disabled"
	NetworkFull     NetworkPolicy = "full"
)

// DockerConfig describes the container a docker or devcontainer backend runs
// in. At least one of Image, Dockerfile, ComposeFile must be set for those
// modes; when several are set, compose wins over build, build over image.
type DockerConfig struct {
	Image           string
	Dockerfile      string
	ComposeFile     string
	Service         string
	Network         NetworkPolicy
	CPULimit        string
	MemoryLimit     string
	WorkspaceFolder string
	Env             map[string]string
}

// ExecutionConfig selects and configures a sandbox.
type ExecutionConfig struct {
	Mode       Mode
	ProjectDir string
	Docker     *DockerConfig
}

// Validate checks the configuration for the selected mode.
func (c *ExecutionConfig) Validate() error {
	if !c.Mode.Valid() {
		return crewerrors.NewConfigurationError("unrecognized sandbox mode %q", c.Mode)
	}
	if c.ProjectDir == "" {
		return crewerrors.NewConfigurationError("project directory is required")
	}
	if c.Mode == ModeDocker || c.Mode == ModeDevcontainer {
		d := c.Docker
		if d == nil || (d.Image == "" && d.Dockerfile == "" && d.ComposeFile == "") {
			return crewerrors.NewConfigurationError(
				"%s mode requires an image, dockerfile, or compose file", c.Mode)
		}
		if d.Network != "" && d.Network != NetworkDisabled && d.Network != NetworkFull {
			return crewerrors.NewConfigurationError("unrecognized network policy %q", d.Network)
		}
	}
	return nil
}

// ExecutionResult is the outcome of one sandboxed command. A non-zero exit
// code is a result, not an error.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Signal   string
}

// Executor is the capability agents use to run commands and touch files
// inside one sandbox. Lifecycle is initialize, use, cleanup; Cleanup must be
// safe to call more than once.
type Executor interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, command string) (*ExecutionResult, error)
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	Mode() Mode
	Cwd() string
	SetCwd(path string) error
	Cleanup(ctx context.Context) error
}

// PermissionGate is the policy hook every mutating sandbox operation passes
// through before touching the underlying process or container.
type PermissionGate interface {
	CheckPermission(ctx context.Context, req security.PermissionRequest) security.PermissionResult
}

func gateCommand(ctx context.Context, gate PermissionGate, command, workingDir string) error {
	if gate == nil {
		return nil
	}
	result := gate.CheckPermission(ctx, security.PermissionRequest{
		Type:       security.ActionBash,
		Target:     command,
		WorkingDir: workingDir,
	})
	if !result.Allowed {
		return crewerrors.NewPermissionDenied("bash", command, result.Reason)
	}
	return nil
}

func gateFileWrite(ctx context.Context, gate PermissionGate, path, workingDir, diff string) error {
	if gate == nil {
		return nil
	}
	result := gate.CheckPermission(ctx, security.PermissionRequest{
		Type:       security.ActionFileWrite,
		Target:     path,
		WorkingDir: workingDir,
		Diff:       diff,
	})
	if !result.Allowed {
		return crewerrors.NewPermissionDenied("file_write", path, result.Reason)
	}
	return nil
}

func errNotInitialized(mode Mode) error {
	return crewerrors.NewSecurityError(fmt.Sprintf("%s executor", mode), "used before initialize")
}
