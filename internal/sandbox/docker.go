package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"crew/internal/devops/docker"
	crewerrors "crew/internal/errors"
	"crew/internal/logging"
	"crew/internal/utils/id"
)

const (
	defaultWorkspaceFolder = "/workspace"
	cleanupStopGrace       = 5 * time.Second
)

var imageTagSanitizer = regexp.MustCompile(`[^a-z0-9_.-]+`)

// DockerExecutor runs commands inside an ephemeral container. The container
// is created at Initialize and owned exclusively by this executor until
// Cleanup tears it down.
type DockerExecutor struct {
	cfg    *ExecutionConfig
	gate   PermissionGate
	client docker.Client
	logger logging.Logger

	mu          sync.Mutex
	container   string
	workspace   string
	composeUp   bool
	initialized bool
	cleaned     bool
}

// NewDockerExecutor creates a container backend. The client is required; the
// caller decides whether it talks to a real daemon or a test double.
func NewDockerExecutor(cfg *ExecutionConfig, gate PermissionGate, client docker.Client, logger logging.Logger) (*DockerExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeDocker && cfg.Mode != ModeDevcontainer {
		return nil, crewerrors.NewConfigurationError("docker executor cannot serve mode %q", cfg.Mode)
	}
	if client == nil {
		return nil, crewerrors.NewConfigurationError("container runtime client is required")
	}
	workspace := cfg.Docker.WorkspaceFolder
	if workspace == "" {
		workspace = defaultWorkspaceFolder
	}
	return &DockerExecutor{
		cfg:       cfg,
		gate:      gate,
		client:    client,
		logger:    logging.OrNop(logger),
		workspace: workspace,
	}, nil
}

func (e *DockerExecutor) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	d := e.cfg.Docker

	if d.ComposeFile != "" {
		if err := e.client.ComposeUp(ctx, d.ComposeFile, d.Service); err != nil {
			return fmt.Errorf("compose up: %w", err)
		}
		e.composeUp = true
		container, err := e.client.ComposePS(ctx, d.ComposeFile, d.Service)
		if err != nil {
			return fmt.Errorf("resolve compose container: %w", err)
		}
		e.container = container
		e.initialized = true
		e.logger.Info("compose sandbox %s ready (service %s)", e.container, d.Service)
		return nil
	}

	image := d.Image
	if image == "" {
		image = e.derivedImageTag()
		if err := e.client.ImageBuild(ctx, e.cfg.ProjectDir, d.Dockerfile, image); err != nil {
			return fmt.Errorf("build image %s: %w", image, err)
		}
	} else if err := e.ensureImage(ctx, image); err != nil {
		return err
	}

	name := id.NewContainerName()
	opts := docker.CreateOpts{
		Name:        name,
		Image:       image,
		NetworkMode: networkMode(d.Network),
		CPUs:        d.CPULimit,
		Memory:      d.MemoryLimit,
		WorkDir:     e.workspace,
		Env:         d.Env,
		Volumes:     map[string]string{e.cfg.ProjectDir: e.workspace},
		Labels:      map[string]string{"crew.sandbox": "true"},
	}
	if err := e.client.ContainerCreate(ctx, opts); err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	e.container = name
	e.initialized = true
	e.logger.Info("container sandbox %s ready (image %s, network %s)", name, image, opts.NetworkMode)
	return nil
}

func (e *DockerExecutor) ensureImage(ctx context.Context, image string) error {
	exists, err := e.client.ImageExists(ctx, image)
	if err == nil && exists {
		return nil
	}
	pull := func() error { return e.client.ImagePull(ctx, image) }
	if err := crewerrors.Retry(ctx, crewerrors.DefaultRetryConfig, pull); err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	return nil
}

func (e *DockerExecutor) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	container, err := e.activeContainer()
	if err != nil {
		return nil, err
	}
	if err := gateCommand(ctx, e.gate, command, e.workspace); err != nil {
		return nil, err
	}
	res, err := e.client.Exec(ctx, container, []string{"sh", "-c", command}, docker.ExecOpts{
		WorkDir: e.workspace,
		Env:     e.cfg.Docker.Env,
	})
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

func (e *DockerExecutor) ReadFile(ctx context.Context, path string) (string, error) {
	container, err := e.activeContainer()
	if err != nil {
		return "", err
	}
	res, err := e.client.Exec(ctx, container, []string{"cat", e.containerPath(path)}, docker.ExecOpts{})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (e *DockerExecutor) WriteFile(ctx context.Context, path, content string) error {
	container, err := e.activeContainer()
	if err != nil {
		return err
	}
	target := e.containerPath(path)
	if err := gateFileWrite(ctx, e.gate, target, e.workspace, ""); err != nil {
		return err
	}
	res, err := e.client.Exec(ctx, container,
		[]string{"sh", "-c", fmt.Sprintf("cat > %s", shellQuote(target))},
		docker.ExecOpts{Stdin: strings.NewReader(content)})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (e *DockerExecutor) Mode() Mode { return e.cfg.Mode }

func (e *DockerExecutor) Cwd() string { return e.workspace }

// SetCwd is unsupported: the working directory is fixed when the container
// is created.
func (e *DockerExecutor) SetCwd(path string) error {
	return crewerrors.NewSecurityError("container sandbox", "working directory is fixed at creation")
}

// Cleanup stops and removes the container. Calling it again, or calling it
// after the container is already gone, is not an error.
func (e *DockerExecutor) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleaned || !e.initialized {
		e.cleaned = true
		return nil
	}

	if e.composeUp {
		if err := e.client.ComposeDown(ctx, e.cfg.Docker.ComposeFile); err != nil {
			e.logger.Warn("compose down: %v", err)
		}
		e.cleaned = true
		return nil
	}

	if err := e.client.ContainerStop(ctx, e.container, cleanupStopGrace); err != nil {
		if isAlreadyGone(err) {
			e.logger.Debug("container %s already stopped", e.container)
		} else {
			e.logger.Warn("stop container %s: %v", e.container, err)
		}
	}
	if err := e.client.ContainerRemove(ctx, e.container); err != nil {
		if isAlreadyGone(err) {
			e.logger.Debug("container %s already removed", e.container)
		} else {
			e.logger.Warn("remove container %s: %v", e.container, err)
		}
	}
	e.cleaned = true
	return nil
}

// ContainerName exposes the backing container for inspection and tests.
func (e *DockerExecutor) ContainerName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.container
}

func (e *DockerExecutor) activeContainer() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.cleaned {
		return "", errNotInitialized(e.cfg.Mode)
	}
	return e.container, nil
}

func (e *DockerExecutor) derivedImageTag() string {
	base := strings.ToLower(filepath.Base(e.cfg.ProjectDir))
	base = imageTagSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-.")
	if base == "" {
		base = "workspace"
	}
	return "crew-" + base + ":latest"
}

func networkMode(policy NetworkPolicy) string {
	if policy == NetworkDisabled {
		return "none"
	}
	return "bridge"
}

func isAlreadyGone(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already stopped") ||
		strings.Contains(msg, "is not running") ||
		strings.Contains(msg, "no such container")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (e *DockerExecutor) containerPath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return filepath.Join(e.workspace, path)
}
