package subprocess

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	t.Parallel()
	r := NewExecRunner()

	res, err := r.Run(context.Background(), "echo out; echo err 1>&2", RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestRunNonZeroExitIsResultNotError(t *testing.T) {
	t.Parallel()
	r := NewExecRunner()

	res, err := r.Run(context.Background(), "exit 3", RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := NewExecRunner()

	res, err := r.Run(context.Background(), "pwd", RunOptions{Cwd: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := strings.TrimSpace(res.Stdout)
	// Resolve symlinks: macOS tempdirs live under /private.
	want, _ := filepath.EvalSymlinks(dir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("pwd = %q, want %q", got, dir)
	}
}

func TestRunEnvironment(t *testing.T) {
	t.Parallel()
	r := NewExecRunner()

	res, err := r.Run(context.Background(), "echo $CREW_TEST_VALUE", RunOptions{
		Env: map[string]string{"CREW_TEST_VALUE": "forty-two"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "forty-two" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	r := NewExecRunner()

	start := time.Now()
	_, err := r.Run(context.Background(), "sleep 5", RunOptions{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("interrupted command must surface an error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout did not take effect")
	}
}
