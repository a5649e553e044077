//go:build !windows

package procexec

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// collector accumulates hook deliveries for assertions.
type collector struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
	exits  []int
	closed bool
}

func (c *collector) hooks() Hooks {
	return Hooks{
		OnStdout: func(chunk []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				panic("stdout after exit")
			}
			c.stdout.Write(chunk)
		},
		OnStderr: func(chunk []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				panic("stderr after exit")
			}
			c.stderr.Write(chunk)
		},
		OnExit: func(code int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.closed = true
			c.exits = append(c.exits, code)
		},
	}
}

func (c *collector) waitExit(t *testing.T) int {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := len(c.exits)
		c.mu.Unlock()
		if n > 0 {
			c.mu.Lock()
			defer c.mu.Unlock()
			if n != 1 {
				t.Fatalf("exit fired %d times, want 1", n)
			}
			return c.exits[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for exit")
	return 0
}

// TestStartStreamsBothOutputsAndExitsZero checks the happy path.
func TestStartStreamsBothOutputsAndExitsZero(t *testing.T) {
	c := &collector{}
	p, err := Start(Spec{
		Command: "sh",
		Args:    []string{"-c", "printf out; printf err 1>&2"},
	}, c.hooks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if code := c.waitExit(t); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if got := c.stdout.String(); got != "out" {
		t.Fatalf("stdout = %q, want %q", got, "out")
	}
	if got := c.stderr.String(); got != "err" {
		t.Fatalf("stderr = %q, want %q", got, "err")
	}
	if p.Alive() {
		t.Fatal("process should not be alive after exit")
	}
}

// TestStartReportsNonZeroExitCode checks exit code propagation.
func TestStartReportsNonZeroExitCode(t *testing.T) {
	c := &collector{}
	if _, err := Start(Spec{Command: "sh", Args: []string{"-c", "exit 7"}}, c.hooks()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if code := c.waitExit(t); code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
}

// TestStartMissingExecutableReturnsSpawnError checks launch failure typing.
func TestStartMissingExecutableReturnsSpawnError(t *testing.T) {
	_, err := Start(Spec{Command: "definitely-not-a-real-binary-here"}, Hooks{})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error type = %T, want *SpawnError", err)
	}
}

// TestStartInvalidWorkingDirReturnsSpawnError checks dir validation.
func TestStartInvalidWorkingDirReturnsSpawnError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := Start(Spec{Command: "sh", Args: []string{"-c", "true"}, Dir: dir}, Hooks{})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error = %v, want *SpawnError", err)
	}
	if spawnErr.Dir != dir {
		t.Fatalf("spawn error dir = %q, want %q", spawnErr.Dir, dir)
	}
}

// TestStartRunsInWorkingDirWithEnvOverrides checks dir and env plumbing.
func TestStartRunsInWorkingDirWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	_, err := Start(Spec{
		Command: "sh",
		Args:    []string{"-c", "pwd; printf '%s' \"$ANALYZER_PROBE\""},
		Dir:     dir,
		Env:     []string{"ANALYZER_PROBE=ok"},
	}, c.hooks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.waitExit(t)

	out := c.stdout.String()
	if !strings.Contains(out, filepath.Base(dir)) {
		t.Fatalf("stdout %q does not mention working dir %q", out, dir)
	}
	if !strings.HasSuffix(out, "ok") {
		t.Fatalf("stdout %q missing env override value", out)
	}
}

// TestTerminateKillsProcessAndIsIdempotent checks forced shutdown behavior.
func TestTerminateKillsProcessAndIsIdempotent(t *testing.T) {
	c := &collector{}
	p, err := Start(Spec{Command: "sh", Args: []string{"-c", "sleep 30"}}, c.hooks())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	p.Terminate()
	code := c.waitExit(t)
	if code == 0 {
		t.Fatal("killed process should not report exit code 0")
	}

	// Terminating an already-exited process is a no-op.
	p.Terminate()
	p.Terminate()
}

// TestExitFiresAfterAllOutput verifies stream/exit ordering for larger writes.
func TestExitFiresAfterAllOutput(t *testing.T) {
	c := &collector{}
	script := "i=0; while [ $i -lt 200 ]; do echo line-$i; i=$((i+1)); done"
	if _, err := Start(Spec{Command: "sh", Args: []string{"-c", script}}, c.hooks()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.waitExit(t)
	lines := strings.Count(c.stdout.String(), "\n")
	if lines != 200 {
		t.Fatalf("stdout lines = %d, want 200", lines)
	}
}
