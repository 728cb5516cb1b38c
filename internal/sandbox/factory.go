package sandbox

import (
	"context"
	"fmt"

	"crew/internal/devops/docker"
	crewerrors "crew/internal/errors"
	"crew/internal/fsys"
	"crew/internal/logging"
	"crew/internal/subprocess"
)

// Detection is the outcome of probing projectDir for the best sandbox.
type Detection struct {
	Mode         Mode
	Available    bool
	Reason       string
	Devcontainer *DevcontainerSpec
}

// Factory probes the environment and constructs executors. All dependencies
// are injectable so detection is testable without a docker daemon.
type Factory struct {
	gate   PermissionGate
	client docker.Client
	runner subprocess.Runner
	fs     fsys.FileSystem
	logger logging.Logger
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

func WithClient(client docker.Client) FactoryOption {
	return func(f *Factory) { f.client = client }
}

func WithRunner(runner subprocess.Runner) FactoryOption {
	return func(f *Factory) { f.runner = runner }
}

func WithFileSystem(fs fsys.FileSystem) FactoryOption {
	return func(f *Factory) { f.fs = fs }
}

func WithFactoryLogger(logger logging.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory creates a factory. The gate applies to every executor it builds.
func NewFactory(gate PermissionGate, opts ...FactoryOption) *Factory {
	f := &Factory{
		gate:   gate,
		fs:     fsys.NewOS(),
		runner: subprocess.NewExecRunner(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = docker.NewCLIClient()
	}
	return f
}

// Detect probes, in priority order, for a dev-container descriptor, then a
// reachable container runtime, falling back to native.
func (f *Factory) Detect(ctx context.Context, projectDir string) Detection {
	spec, specPath, err := FindDevcontainerSpec(f.fs, projectDir)
	if err != nil {
		f.logger.Warn("devcontainer probe: %v", err)
	} else if spec != nil {
		if pingErr := f.client.Ping(ctx); pingErr == nil {
			return Detection{
				Mode:         ModeDevcontainer,
				Available:    true,
				Reason:       fmt.Sprintf("descriptor found at %s", specPath),
				Devcontainer: spec,
			}
		} else {
			f.logger.Warn("devcontainer descriptor present but runtime unreachable: %v", pingErr)
		}
	}

	if err := f.client.Ping(ctx); err == nil {
		return Detection{
			Mode:      ModeDocker,
			Available: true,
			Reason:    "container runtime reachable",
		}
	}

	return Detection{
		Mode:      ModeNative,
		Available: true,
		Reason:    "no container runtime detected",
	}
}

// CreateExecutor builds the backend the config asks for. Mode auto resolves
// through Detect; an explicitly requested mode whose prerequisite is missing
// is a configuration error, never a silent downgrade.
func (f *Factory) CreateExecutor(ctx context.Context, cfg *ExecutionConfig) (Executor, error) {
	if cfg == nil {
		return nil, crewerrors.NewConfigurationError("execution config is required")
	}

	resolved := *cfg
	if resolved.Mode == ModeAuto {
		detection := f.Detect(ctx, resolved.ProjectDir)
		resolved.Mode = detection.Mode
		f.logger.Info("auto-detected %s sandbox: %s", detection.Mode, detection.Reason)
		if detection.Mode == ModeDocker && resolved.Docker == nil {
			resolved.Docker = &DockerConfig{Image: defaultSandboxImage}
		}
	}

	switch resolved.Mode {
	case ModeNative:
		return NewNativeExecutor(&resolved, f.gate, f.runner, f.fs, f.logger)
	case ModeDocker:
		if err := f.client.Ping(ctx); err != nil {
			return nil, crewerrors.NewConfigurationError("docker mode requested but runtime unreachable: %v", err)
		}
		return NewDockerExecutor(&resolved, f.gate, f.client, f.logger)
	case ModeDevcontainer:
		if err := f.client.Ping(ctx); err != nil {
			return nil, crewerrors.NewConfigurationError("devcontainer mode requested but runtime unreachable: %v", err)
		}
		return NewDevcontainerExecutor(&resolved, f.gate, f.client, f.fs, f.logger)
	default:
		return nil, crewerrors.NewConfigurationError("unrecognized sandbox mode %q", resolved.Mode)
	}
}

const defaultSandboxImage = "ubuntu:24.04"
