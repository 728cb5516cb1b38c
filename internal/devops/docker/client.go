package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Client provides a type-safe interface for container runtime operations.
type Client interface {
	Ping(ctx context.Context) error
	ContainerExists(ctx context.Context, name string) (bool, error)
	ContainerRunning(ctx context.Context, name string) (bool, error)
	ContainerCreate(ctx context.Context, opts CreateOpts) error
	ContainerStart(ctx context.Context, name string) error
	ContainerStop(ctx context.Context, name string, timeout time.Duration) error
	ContainerRemove(ctx context.Context, name string) error
	ContainerInspect(ctx context.Context, name string) (*ContainerInfo, error)
	Exec(ctx context.Context, container string, cmd []string, opts ExecOpts) (*ExecResult, error)
	ImagePull(ctx context.Context, image string) error
	ImageBuild(ctx context.Context, contextDir, dockerfile, tag string) error
	ImageExists(ctx context.Context, image string) (bool, error)
	ComposeUp(ctx context.Context, composeFile, service string) error
	ComposePS(ctx context.Context, composeFile, service string) (string, error)
	ComposeDown(ctx context.Context, composeFile string) error
}

// CreateOpts defines options for creating a container.
type CreateOpts struct {
	Name        string
	Image       string
	NetworkMode string
	CPUs        string
	Memory      string
	WorkDir     string
	Command     []string
	Volumes     map[string]string // host:container
	Env         map[string]string
	Labels      map[string]string
}

// ExecOpts defines options for exec in a container.
type ExecOpts struct {
	Env     map[string]string
	WorkDir string
	User    string
	Stdin   io.Reader
}

// ExecResult holds the outcome of an exec. Non-zero exit codes are reported
// here rather than as errors.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ContainerInfo holds inspect results.
type ContainerInfo struct {
	Name    string
	Running bool
	Image   string
	Mounts  []MountInfo
}

// MountInfo describes a container mount.
type MountInfo struct {
	Source      string
	Destination string
}

// CLIClient implements Client by shelling out to the docker CLI.
type CLIClient struct {
	dockerBin string
}

// NewCLIClient creates a new CLI-based Docker client.
func NewCLIClient() *CLIClient {
	bin := "docker"
	if p, err := exec.LookPath("docker"); err == nil {
		bin = p
	}
	return &CLIClient{dockerBin: bin}
}

func (c *CLIClient) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *CLIClient) Ping(ctx context.Context) error {
	_, err := c.run(ctx, "info", "--format", "{{.ServerVersion}}")
	return err
}

func (c *CLIClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "ps", "-a", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLIClient) ContainerRunning(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "ps", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLIClient) ContainerCreate(ctx context.Context, opts CreateOpts) error {
	args := []string{"run", "-d", "--name", opts.Name}

	if opts.NetworkMode != "" {
		args = append(args, "--network", opts.NetworkMode)
	}
	if opts.CPUs != "" {
		args = append(args, "--cpus", opts.CPUs)
	}
	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	for k, v := range opts.Labels {
		args = append(args, "--label", k+"="+v)
	}
	for hostPath, containerPath := range opts.Volumes {
		args = append(args, "-v", hostPath+":"+containerPath)
	}
	args = append(args, opts.Image)
	if len(opts.Command) > 0 {
		args = append(args, opts.Command...)
	} else {
		// Keep the container alive so we can exec into it repeatedly.
		args = append(args, "sleep", "infinity")
	}

	_, err := c.run(ctx, args...)
	return err
}

func (c *CLIClient) ContainerStart(ctx context.Context, name string) error {
	_, err := c.run(ctx, "start", name)
	return err
}

func (c *CLIClient) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	args := []string{"stop"}
	if timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(timeout.Seconds())))
	}
	args = append(args, name)
	_, err := c.run(ctx, args...)
	return err
}

func (c *CLIClient) ContainerRemove(ctx context.Context, name string) error {
	_, err := c.run(ctx, "rm", "-f", name)
	return err
}

func (c *CLIClient) ContainerInspect(ctx context.Context, name string) (*ContainerInfo, error) {
	out, err := c.run(ctx, "inspect", name)
	if err != nil {
		return nil, err
	}

	var inspections []dockerInspection
	if err := json.Unmarshal([]byte(out), &inspections); err != nil {
		return nil, fmt.Errorf("parse inspect output: %w", err)
	}
	if len(inspections) == 0 {
		return nil, fmt.Errorf("no inspection data for %s", name)
	}

	insp := inspections[0]
	info := &ContainerInfo{
		Name:    name,
		Running: insp.State.Running,
		Image:   insp.Config.Image,
	}

	for _, m := range insp.Mounts {
		info.Mounts = append(info.Mounts, MountInfo{
			Source:      m.Source,
			Destination: m.Destination,
		})
	}

	return info, nil
}

func (c *CLIClient) Exec(ctx context.Context, container string, cmd []string, opts ExecOpts) (*ExecResult, error) {
	args := []string{"exec"}
	if opts.Stdin != nil {
		args = append(args, "-i")
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, container)
	args = append(args, cmd...)

	execCmd := exec.CommandContext(ctx, c.dockerBin, args...)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	if opts.Stdin != nil {
		execCmd.Stdin = opts.Stdin
	}

	runErr := execCmd.Run()
	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("docker exec in %s: %s: %w", container, strings.TrimSpace(stderr.String()), runErr)
	}
	return result, nil
}

func (c *CLIClient) ImagePull(ctx context.Context, image string) error {
	_, err := c.run(ctx, "pull", image)
	return err
}

func (c *CLIClient) ImageBuild(ctx context.Context, contextDir, dockerfile, tag string) error {
	args := []string{"build", "-t", tag}
	if dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	args = append(args, contextDir)
	_, err := c.run(ctx, args...)
	return err
}

func (c *CLIClient) ImageExists(ctx context.Context, image string) (bool, error) {
	out, err := c.run(ctx, "images", "--format", "{{.Repository}}:{{.Tag}}", image)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (c *CLIClient) ComposeUp(ctx context.Context, composeFile, service string) error {
	args := []string{"compose", "-f", composeFile, "up", "-d"}
	if service != "" {
		args = append(args, service)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ComposePS resolves the running container behind a compose service. Compose
// names containers itself, so the service name alone is not addressable.
func (c *CLIClient) ComposePS(ctx context.Context, composeFile, service string) (string, error) {
	args := []string{"compose", "-f", composeFile, "ps", "-q"}
	if service != "" {
		args = append(args, service)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	lines := strings.Fields(strings.TrimSpace(out))
	if len(lines) == 0 {
		return "", fmt.Errorf("no running container for compose service %q", service)
	}
	return lines[0], nil
}

func (c *CLIClient) ComposeDown(ctx context.Context, composeFile string) error {
	_, err := c.run(ctx, "compose", "-f", composeFile, "down")
	return err
}

type dockerInspection struct {
	State struct {
		Running bool `json:"Running"`
	} `json:"State"`
	Config struct {
		Image string `json:"Image"`
	} `json:"Config"`
	Mounts []struct {
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
	} `json:"Mounts"`
}
