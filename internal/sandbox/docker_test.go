package sandbox

import (
	"context"
	"testing"

	crewerrors "crew/internal/errors"
)

func dockerConfig(network NetworkPolicy) *ExecutionConfig {
	return &ExecutionConfig{
		Mode:       ModeDocker,
		ProjectDir: "/project",
		Docker: &DockerConfig{
			Image:   "golang:1.24",
			Network: network,
		},
	}
}

func newDockerForTest(t *testing.T, cfg *ExecutionConfig, gate PermissionGate, client *fakeClient) *DockerExecutor {
	t.Helper()
	exec, err := NewDockerExecutor(cfg, gate, client, nil)
	if err != nil {
		t.Fatalf("NewDockerExecutor: %v", err)
	}
	return exec
}

func TestDockerConfigRequiresImageSource(t *testing.T) {
	t.Parallel()
	cfg := &ExecutionConfig{Mode: ModeDocker, ProjectDir: "/project", Docker: &DockerConfig{}}
	_, err := NewDockerExecutor(cfg, nil, newFakeClient(), nil)
	if !crewerrors.IsConfiguration(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}

	cfg = &ExecutionConfig{Mode: ModeDocker, ProjectDir: "/project"}
	if _, err := NewDockerExecutor(cfg, nil, newFakeClient(), nil); !crewerrors.IsConfiguration(err) {
		t.Fatalf("nil docker section: err = %v, want configuration error", err)
	}
}

func TestDockerNetworkMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		network NetworkPolicy
		want    string
	}{
		{NetworkDisabled, "none"},
		{NetworkFull, "bridge"},
		{"", "bridge"},
	}
	for _, tt := range tests {
		client := newFakeClient()
		exec := newDockerForTest(t, dockerConfig(tt.network), nil, client)
		if err := exec.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if client.lastCreate.NetworkMode != tt.want {
			t.Errorf("network %q → mode %q, want %q", tt.network, client.lastCreate.NetworkMode, tt.want)
		}
	}
}

func TestDockerInitializePullsMissingImage(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	exec := newDockerForTest(t, dockerConfig(NetworkFull), nil, client)

	if err := exec.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if client.count("pull") != 1 {
		t.Fatalf("pull called %d times, want 1", client.count("pull"))
	}
	if client.count("create") != 1 {
		t.Fatalf("create called %d times, want 1", client.count("create"))
	}
	// Initialize is idempotent.
	if err := exec.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if client.count("create") != 1 {
		t.Fatal("second Initialize must not create another container")
	}
}

func TestDockerInitializeBuildsFromDockerfile(t *testing.T) {
	t.Parallel()
	cfg := &ExecutionConfig{
		Mode:       ModeDocker,
		ProjectDir: "/project/My App",
		Docker:     &DockerConfig{Dockerfile: "Dockerfile"},
	}
	client := newFakeClient()
	exec := newDockerForTest(t, cfg, nil, client)
	if err := exec.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if client.count("build") != 1 {
		t.Fatal("Dockerfile config must build an image")
	}
	if client.lastCreate.Image != "crew-my-app:latest" {
		t.Fatalf("derived tag = %q", client.lastCreate.Image)
	}
}

func TestDockerExecute(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.execRes.Stdout = "hello\n"
	exec := newDockerForTest(t, dockerConfig(NetworkFull), &fakeGate{allow: true}, client)
	exec.Initialize(context.Background())

	res, err := exec.Execute(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Stdout != "hello\n" || res.ExitCode != 0 {
		t.Fatalf("res = %+v", res)
	}

	last := client.calls[len(client.calls)-1]
	if last.op != "exec" || last.args[0] != "sh" || last.args[1] != "-c" || last.args[2] != "echo hello" {
		t.Fatalf("exec args = %v, want sh -c wrapping", last.args)
	}
}

func TestDockerDenialReachesNoContainer(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	gate := &fakeGate{allow: false, reason: "denied"}
	exec := newDockerForTest(t, dockerConfig(NetworkFull), gate, client)
	exec.Initialize(context.Background())

	if _, err := exec.Execute(context.Background(), "rm -rf /"); !crewerrors.IsPermissionDenied(err) {
		t.Fatalf("err = %v, want permission denied", err)
	}
	if err := exec.WriteFile(context.Background(), "x.txt", "data"); !crewerrors.IsPermissionDenied(err) {
		t.Fatalf("write err = %v, want permission denied", err)
	}
	if client.count("exec") != 0 {
		t.Fatalf("container exec invoked %d times after denial, want 0", client.count("exec"))
	}
}

func TestDockerFileRoundTrip(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	exec := newDockerForTest(t, dockerConfig(NetworkFull), &fakeGate{allow: true}, client)
	exec.Initialize(context.Background())

	const content = "line one\nline two\n"
	if err := exec.WriteFile(context.Background(), "notes.txt", content); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := exec.ReadFile(context.Background(), "notes.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != content {
		t.Fatalf("round trip = %q, want %q", got, content)
	}
}

func TestDockerReadMissingFile(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	exec := newDockerForTest(t, dockerConfig(NetworkFull), nil, client)
	exec.Initialize(context.Background())

	if _, err := exec.ReadFile(context.Background(), "ghost.txt"); err == nil {
		t.Fatal("reading a missing file should fail")
	}
}

func TestDockerSetCwdUnsupported(t *testing.T) {
	t.Parallel()
	exec := newDockerForTest(t, dockerConfig(NetworkFull), nil, newFakeClient())
	if err := exec.SetCwd("/elsewhere"); !crewerrors.IsSecurity(err) {
		t.Fatalf("SetCwd = %v, want security error", err)
	}
}

func TestDockerCleanupIdempotent(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	exec := newDockerForTest(t, dockerConfig(NetworkFull), nil, client)
	exec.Initialize(context.Background())

	if err := exec.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if err := exec.Cleanup(context.Background()); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if client.count("stop") != 1 || client.count("remove") != 1 {
		t.Fatalf("stop=%d remove=%d, want one each", client.count("stop"), client.count("remove"))
	}
}

func TestDockerCleanupToleratesStoppedContainer(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.stopErr = &fakeError{"Error response from daemon: container already stopped"}
	exec := newDockerForTest(t, dockerConfig(NetworkFull), nil, client)
	exec.Initialize(context.Background())

	if err := exec.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup with stopped container: %v", err)
	}
	if client.count("remove") != 1 {
		t.Fatal("removal must still run after a tolerated stop failure")
	}
}

func TestDockerUseAfterCleanup(t *testing.T) {
	t.Parallel()
	exec := newDockerForTest(t, dockerConfig(NetworkFull), &fakeGate{allow: true}, newFakeClient())
	exec.Initialize(context.Background())
	exec.Cleanup(context.Background())

	if _, err := exec.Execute(context.Background(), "ls"); !crewerrors.IsSecurity(err) {
		t.Fatalf("Execute after Cleanup = %v, want security error", err)
	}
}

func TestDockerComposeLifecycle(t *testing.T) {
	t.Parallel()
	cfg := &ExecutionConfig{
		Mode:       ModeDocker,
		ProjectDir: "/project",
		Docker:     &DockerConfig{ComposeFile: "docker-compose.yml", Service: "dev"},
	}
	client := newFakeClient()
	client.composeID = "project-dev-1"
	exec := newDockerForTest(t, cfg, nil, client)

	if err := exec.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if client.count("compose-up") != 1 {
		t.Fatal("compose config must bring the stack up")
	}
	if client.count("compose-ps") != 1 {
		t.Fatal("initialize must resolve the service's container")
	}
	// Compose names containers itself; exec must target the resolved name,
	// never the bare service name.
	if exec.ContainerName() != "project-dev-1" {
		t.Fatalf("container = %q, want the resolved compose container", exec.ContainerName())
	}
	if _, err := exec.Execute(context.Background(), "true"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	exec.Cleanup(context.Background())
	if client.count("compose-down") != 1 {
		t.Fatal("cleanup must tear the stack down")
	}
}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }
