package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	crewerrors "crew/internal/errors"
	"crew/internal/sandbox"
)

// scriptedExecutor is a minimal sandbox for agent tests.
type scriptedExecutor struct {
	mu          sync.Mutex
	initialized bool
	initErr     error
	result      sandbox.ExecutionResult
	execErr     error
	commands    []string
	cleanedUp   bool
}

func (e *scriptedExecutor) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initErr != nil {
		return e.initErr
	}
	e.initialized = true
	return nil
}

func (e *scriptedExecutor) Execute(ctx context.Context, command string) (*sandbox.ExecutionResult, error) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.execErr != nil {
		return nil, e.execErr
	}
	res := e.result
	return &res, nil
}

func (e *scriptedExecutor) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (e *scriptedExecutor) WriteFile(ctx context.Context, path, content string) error { return nil }
func (e *scriptedExecutor) Mode() sandbox.Mode                                        { return sandbox.ModeNative }
func (e *scriptedExecutor) Cwd() string                                               { return "/project" }
func (e *scriptedExecutor) SetCwd(path string) error                                  { return nil }
func (e *scriptedExecutor) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanedUp = true
	return nil
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	exec := &scriptedExecutor{result: sandbox.ExecutionResult{Stdout: "42\n"}}
	agent := New(exec, nil)

	result, err := agent.Execute(context.Background(), "echo 42", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.FinalResponse != "42" {
		t.Fatalf("result = %+v", result)
	}
	if len(exec.commands) != 1 || exec.commands[0] != "echo 42" {
		t.Fatalf("commands = %v", exec.commands)
	}
}

func TestExecuteNonZeroExitReportsFailure(t *testing.T) {
	t.Parallel()
	exec := &scriptedExecutor{result: sandbox.ExecutionResult{ExitCode: 1, Stderr: "not found\n"}}
	agent := New(exec, nil)

	result, err := agent.Execute(context.Background(), "which ghost", "")
	if err != nil {
		t.Fatalf("a failed command is a result, not an error: %v", err)
	}
	if result.Success {
		t.Fatal("non-zero exit must report Success=false")
	}
	if result.FinalResponse != "not found" {
		t.Fatalf("response = %q", result.FinalResponse)
	}
}

func TestExecutePropagatesPermissionDenial(t *testing.T) {
	t.Parallel()
	exec := &scriptedExecutor{execErr: crewerrors.NewPermissionDenied("bash", "rm -rf /", "critical")}
	agent := New(exec, nil)

	_, err := agent.Execute(context.Background(), "rm -rf /", "")
	if !crewerrors.IsPermissionDenied(err) {
		t.Fatalf("err = %v, want permission denial propagated", err)
	}
}

func TestExecuteInitializeFailure(t *testing.T) {
	t.Parallel()
	exec := &scriptedExecutor{initErr: errors.New("no runtime")}
	agent := New(exec, nil)
	if _, err := agent.Execute(context.Background(), "ls", ""); err == nil {
		t.Fatal("initialize failure must propagate")
	}
	if len(exec.commands) != 0 {
		t.Fatal("no command may run when initialize fails")
	}
}

func TestStopCancelsExecution(t *testing.T) {
	t.Parallel()
	exec := &scriptedExecutor{}
	agent := New(exec, nil)

	// Stop before Execute is a no-op.
	agent.Stop()

	ctx := context.Background()
	if _, err := agent.Execute(ctx, "ls", ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestCleanupDelegates(t *testing.T) {
	t.Parallel()
	exec := &scriptedExecutor{}
	agent := New(exec, nil)
	if err := agent.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if !exec.cleanedUp {
		t.Fatal("cleanup not delegated to the executor")
	}
}

func TestFactoryHonorsPerAgentConfig(t *testing.T) {
	t.Parallel()
	defaultDir := t.TempDir()
	taskDir := t.TempDir()
	sf := sandbox.NewFactory(nil)
	factory := NewFactory(sf, &sandbox.ExecutionConfig{Mode: sandbox.ModeNative, ProjectDir: defaultDir}, nil)

	agent, err := factory(context.Background(), "agent-1", nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if got := agent.(*Agent).executor.Cwd(); got != defaultDir {
		t.Fatalf("cwd = %q, want the default config's project dir", got)
	}

	agent, err = factory(context.Background(), "agent-2",
		&sandbox.ExecutionConfig{Mode: sandbox.ModeNative, ProjectDir: taskDir})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if got := agent.(*Agent).executor.Cwd(); got != taskDir {
		t.Fatalf("cwd = %q, want the per-agent config's project dir", got)
	}
}
