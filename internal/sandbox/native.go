package sandbox

import (
	"context"
	"path/filepath"
	"sync"

	crewerrors "crew/internal/errors"
	"crew/internal/fsys"
	"crew/internal/logging"
	"crew/internal/subprocess"
)

// NativeExecutor runs commands as host processes rooted at the project
// directory. It is the zero-isolation backend.
type NativeExecutor struct {
	gate   PermissionGate
	runner subprocess.Runner
	fs     fsys.FileSystem
	logger logging.Logger

	mu          sync.Mutex
	cwd         string
	initialized bool
}

// NewNativeExecutor creates a native backend for the given project directory.
func NewNativeExecutor(cfg *ExecutionConfig, gate PermissionGate, runner subprocess.Runner, fs fsys.FileSystem, logger logging.Logger) (*NativeExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		runner = subprocess.NewExecRunner()
	}
	if fs == nil {
		fs = fsys.NewOS()
	}
	return &NativeExecutor{
		gate:   gate,
		runner: runner,
		fs:     fs,
		logger: logging.OrNop(logger),
		cwd:    cfg.ProjectDir,
	}, nil
}

func (e *NativeExecutor) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	if !e.fs.Exists(e.cwd) {
		return crewerrors.NewConfigurationError("project directory %s does not exist", e.cwd)
	}
	e.initialized = true
	e.logger.Info("native sandbox ready in %s", e.cwd)
	return nil
}

func (e *NativeExecutor) Execute(ctx context.Context, command string) (*ExecutionResult, error) {
	if !e.ready() {
		return nil, errNotInitialized(ModeNative)
	}
	if err := gateCommand(ctx, e.gate, command, e.Cwd()); err != nil {
		return nil, err
	}
	res, err := e.runner.Run(ctx, command, subprocess.RunOptions{Cwd: e.Cwd()})
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Signal:   res.Signal,
	}, nil
}

func (e *NativeExecutor) ReadFile(ctx context.Context, path string) (string, error) {
	if !e.ready() {
		return "", errNotInitialized(ModeNative)
	}
	data, err := e.fs.ReadFile(e.resolve(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *NativeExecutor) WriteFile(ctx context.Context, path, content string) error {
	if !e.ready() {
		return errNotInitialized(ModeNative)
	}
	target := e.resolve(path)
	if err := gateFileWrite(ctx, e.gate, target, e.Cwd(), ""); err != nil {
		return err
	}
	return e.fs.WriteFile(target, []byte(content), 0o644)
}

func (e *NativeExecutor) Mode() Mode { return ModeNative }

func (e *NativeExecutor) Cwd() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cwd
}

// SetCwd moves the working directory for subsequent commands. The target
// must already exist.
func (e *NativeExecutor) SetCwd(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.cwd, path)
	}
	if !e.fs.Exists(path) {
		return crewerrors.NewConfigurationError("directory %s does not exist", path)
	}
	e.cwd = path
	return nil
}

// Cleanup has nothing to tear down for host processes.
func (e *NativeExecutor) Cleanup(ctx context.Context) error {
	return nil
}

func (e *NativeExecutor) ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *NativeExecutor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.Cwd(), path)
}
