package sandbox

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crew/internal/devops/docker"
	"crew/internal/security"
	"crew/internal/subprocess"
)

// fakeGate records permission checks and answers with a fixed policy.
type fakeGate struct {
	mu     sync.Mutex
	allow  bool
	reason string
	calls  []security.PermissionRequest
}

func (g *fakeGate) CheckPermission(ctx context.Context, req security.PermissionRequest) security.PermissionResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	return security.PermissionResult{Allowed: g.allow, Reason: g.reason}
}

func (g *fakeGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeRunner records commands and returns scripted results.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	result   subprocess.Result
	err      error
}

func (r *fakeRunner) Run(ctx context.Context, command string, opts subprocess.RunOptions) (*subprocess.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	res := r.result
	return &res, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

// fakeFS is an in-memory filesystem.
type fakeFS struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newFakeFS(dirs ...string) *fakeFS {
	f := &fakeFS{files: map[string][]byte{}, dirs: map[string]bool{}}
	for _, d := range dirs {
		f.dirs[d] = true
	}
	return f
}

func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *fakeFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeFS) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; ok {
		return true
	}
	return f.dirs[path]
}

func (f *fakeFS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *fakeFS) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	delete(f.dirs, path)
	return nil
}

func (f *fakeFS) Stat(path string) (fs.FileInfo, error) {
	if !f.Exists(path) {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{name: filepath.Base(path)}, nil
}

func (f *fakeFS) Glob(pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []string
	for path := range f.files {
		if ok, _ := filepath.Match(pattern, path); ok {
			matches = append(matches, path)
		}
	}
	return matches, nil
}

type fakeFileInfo struct{ name string }

func (i fakeFileInfo) Name() string       { return i.name }
func (i fakeFileInfo) Size() int64        { return 0 }
func (i fakeFileInfo) Mode() fs.FileMode  { return 0o644 }
func (i fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (i fakeFileInfo) IsDir() bool        { return false }
func (i fakeFileInfo) Sys() any           { return nil }

// call is one recorded client invocation.
type call struct {
	op   string
	args []string
}

// fakeClient emulates just enough of the docker CLI for executor tests,
// including an in-container file store for cat round-trips.
type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	pingErr   error
	stopErr   error
	execRes   docker.ExecResult
	composeID string
	files     map[string][]byte

	lastCreate docker.CreateOpts
}

func newFakeClient() *fakeClient {
	return &fakeClient{files: map[string][]byte{}}
}

func (c *fakeClient) record(op string, args ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: op, args: args})
}

func (c *fakeClient) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cl := range c.calls {
		if cl.op == op {
			n++
		}
	}
	return n
}

func (c *fakeClient) Ping(ctx context.Context) error {
	c.record("ping")
	return c.pingErr
}

func (c *fakeClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	c.record("exists", name)
	return false, nil
}

func (c *fakeClient) ContainerRunning(ctx context.Context, name string) (bool, error) {
	c.record("running", name)
	return true, nil
}

func (c *fakeClient) ContainerCreate(ctx context.Context, opts docker.CreateOpts) error {
	c.record("create", opts.Name)
	c.mu.Lock()
	c.lastCreate = opts
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) ContainerStart(ctx context.Context, name string) error {
	c.record("start", name)
	return nil
}

func (c *fakeClient) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	c.record("stop", name)
	return c.stopErr
}

func (c *fakeClient) ContainerRemove(ctx context.Context, name string) error {
	c.record("remove", name)
	return nil
}

func (c *fakeClient) ContainerInspect(ctx context.Context, name string) (*docker.ContainerInfo, error) {
	c.record("inspect", name)
	return &docker.ContainerInfo{Name: name, Running: true}, nil
}

func (c *fakeClient) Exec(ctx context.Context, container string, cmd []string, opts docker.ExecOpts) (*docker.ExecResult, error) {
	c.record("exec", cmd...)

	if len(cmd) == 2 && cmd[0] == "cat" {
		c.mu.Lock()
		data, ok := c.files[cmd[1]]
		c.mu.Unlock()
		if !ok {
			return &docker.ExecResult{ExitCode: 1, Stderr: "cat: " + cmd[1] + ": No such file or directory"}, nil
		}
		return &docker.ExecResult{Stdout: string(data)}, nil
	}

	if len(cmd) == 3 && cmd[0] == "sh" && cmd[1] == "-c" && strings.HasPrefix(cmd[2], "cat > ") {
		path := strings.Trim(strings.TrimPrefix(cmd[2], "cat > "), "'")
		data, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.files[path] = data
		c.mu.Unlock()
		return &docker.ExecResult{}, nil
	}

	c.mu.Lock()
	res := c.execRes
	c.mu.Unlock()
	return &res, nil
}

func (c *fakeClient) ImagePull(ctx context.Context, image string) error {
	c.record("pull", image)
	return nil
}

func (c *fakeClient) ImageBuild(ctx context.Context, contextDir, dockerfile, tag string) error {
	c.record("build", tag)
	return nil
}

func (c *fakeClient) ImageExists(ctx context.Context, image string) (bool, error) {
	c.record("image-exists", image)
	return false, nil
}

func (c *fakeClient) ComposeUp(ctx context.Context, composeFile, service string) error {
	c.record("compose-up", composeFile, service)
	return nil
}

func (c *fakeClient) ComposePS(ctx context.Context, composeFile, service string) (string, error) {
	c.record("compose-ps", composeFile, service)
	if c.composeID != "" {
		return c.composeID, nil
	}
	return "compose-0ddba11", nil
}

func (c *fakeClient) ComposeDown(ctx context.Context, composeFile string) error {
	c.record("compose-down", composeFile)
	return nil
}
