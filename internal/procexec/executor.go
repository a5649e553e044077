package procexec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Spec describes one external process invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	// Env entries ("KEY=value") are appended to the parent environment and
	// override inherited values with the same key.
	Env []string
}

// Hooks receive process output and the final exit code. Stdout and stderr
// chunks arrive in order within each stream, with no ordering guarantee
// between the two. OnExit fires exactly once, after both streams have
// delivered all buffered output.
type Hooks struct {
	OnStdout func(chunk []byte)
	OnStderr func(chunk []byte)
	OnExit   func(code int)
}

// SpawnError reports a process that could not be launched at all.
type SpawnError struct {
	Command string
	Dir     string
	Err     error
}

// Error formats spawn failures for logs and worker detail fields.
func (e *SpawnError) Error() string {
	if e == nil {
		return ""
	}
	if e.Dir != "" {
		return fmt.Sprintf("spawn %s in %s: %v", e.Command, e.Dir, e.Err)
	}
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *SpawnError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KilledExitCode is reported when a process died from a signal rather than
// exiting voluntarily, including after Terminate.
const KilledExitCode = -1

// Process is a handle to one launched subprocess.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}
	kill sync.Once
}

// Start launches a subprocess and begins streaming its output to hooks.
// It returns immediately after a successful spawn; a *SpawnError is
// returned when the executable or working directory is unusable.
func Start(spec Spec, hooks Hooks) (*Process, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, &SpawnError{Command: spec.Command, Err: errors.New("command is empty")}
	}
	if spec.Dir != "" {
		info, err := os.Stat(spec.Dir)
		if err != nil {
			return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
		}
		if !info.IsDir() {
			return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: errors.New("not a directory")}
		}
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Dir: spec.Dir, Err: err}
	}

	p := &Process{cmd: cmd, done: make(chan struct{})}

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		pump(stdout, hooks.OnStdout)
	}()
	go func() {
		defer streams.Done()
		pump(stderr, hooks.OnStderr)
	}()

	go func() {
		// Drain both streams before Wait so no output can arrive after OnExit.
		streams.Wait()
		err := cmd.Wait()
		close(p.done)
		if hooks.OnExit != nil {
			hooks.OnExit(exitCode(err))
		}
	}()

	return p, nil
}

// Terminate asks the process to stop. It is idempotent and a no-op once the
// process has already exited; the exit hook still fires through the normal
// path, with KilledExitCode when the process did not exit voluntarily.
func (p *Process) Terminate() {
	if p == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	p.kill.Do(func() {
		terminateProcess(p.cmd)
	})
}

// Done is closed once the process has exited and all output is delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process has not yet exited.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// pump copies reader chunks to the callback as they arrive.
func pump(r io.Reader, cb func([]byte)) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && cb != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cb(chunk)
		}
		if err != nil {
			return
		}
	}
}

// exitCode maps a Wait error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return KilledExitCode
}
