package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// RunOptions configures one command invocation.
type RunOptions struct {
	Cwd     string
	Env     map[string]string
	Timeout time.Duration
}

// Result captures the outcome of a finished command. A non-zero exit code is
// a normal result, not an error; errors are reserved for failures to run the
// command at all.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Signal   string
}

// Runner executes shell commands on behalf of a sandbox backend.
type Runner interface {
	Run(ctx context.Context, command string, opts RunOptions) (*Result, error)
}

// ExecRunner runs commands through `sh -c` on the host. Processes are placed
// in their own process group so cancellation kills the whole tree.
type ExecRunner struct{}

// NewExecRunner creates a host process runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, command string, opts RunOptions) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	if len(opts.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			pgid = cmd.Process.Pid
		}
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			result.Signal = status.Signal().String()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return result, nil
	}

	return nil, fmt.Errorf("run command: %w", runErr)
}
