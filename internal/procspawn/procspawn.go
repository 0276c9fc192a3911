// Package procspawn starts child processes for a Job's Execution and gives
// the caller a uniform Handle regardless of host platform.
package procspawn

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/corecron/acsd/internal/model"
)

// Spawner starts Executions as child processes.
type Spawner struct{}

// New creates a Spawner.
func New() *Spawner { return &Spawner{} }

// Handle is a running (or just-exited) child process together with the
// combined stdout+stderr stream the Executor reads from.
type Handle struct {
	cmd    *exec.Cmd
	Output *os.File // read end of the combined output pipe
	stdin  *os.File // write end of the input pipe, nil if no input was provided
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Wait blocks until the process exits and returns its exit code, encoded
// as a signed 32-bit value. A process killed by a signal reports -1.
func (h *Handle) Wait() (int32, error) {
	err := h.cmd.Wait()
	if h.stdin != nil {
		h.stdin.Close()
	}
	h.Output.Close()
	if err == nil {
		return int32(h.cmd.ProcessState.ExitCode()), nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		code := exitErr.ExitCode()
		if code == -1 {
			return -1, nil // terminated by signal: not an infra failure
		}
		return int32(code), nil
	}
	return -1, fmt.Errorf("procspawn: wait: %w", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Kill terminates the process (and, where the platform supports it, the
// whole process group it spawned). It does not close the handle's pipes;
// Wait does that.
func (h *Handle) Kill() error {
	return killProcessGroup(h.cmd)
}

// Spawn builds and starts a child process for execution. args is appended
// verbatim to a ShellCommand, or passed to a ScriptFile as interpreter
// arguments. env is the fully-merged environment (inherited, job, trigger)
// already resolved by the caller. workDir empty means the daemon's own
// working directory. input, if non-empty, is written to the child's stdin
// and the pipe is then closed.
func (s *Spawner) Spawn(ctx context.Context, execution model.Execution, args, workDir string, env []string, input string) (*Handle, error) {
	cmd, err := buildCommand(ctx, execution, args)
	if err != nil {
		return nil, err
	}
	cmd.Env = env
	if workDir != "" {
		cmd.Dir = workDir
	}
	setProcessGroup(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("procspawn: output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	h := &Handle{cmd: cmd, Output: outR}

	if input != "" {
		inR, inW, err := os.Pipe()
		if err != nil {
			outW.Close()
			outR.Close()
			return nil, fmt.Errorf("procspawn: input pipe: %w", err)
		}
		cmd.Stdin = inR
		h.stdin = inW
	}

	if err := cmd.Start(); err != nil {
		outW.Close()
		outR.Close()
		if h.stdin != nil {
			h.stdin.Close()
		}
		return nil, fmt.Errorf("procspawn: start: %w", err)
	}

	// The child inherited its own copies of the write ends (and the input
	// read end); the parent's copies must close so the parent's read of
	// Output observes EOF once the child actually exits.
	outW.Close()
	if cmd.Stdin != nil {
		cmd.Stdin.(*os.File).Close()
	}

	if h.stdin != nil {
		go func() {
			defer h.stdin.Close()
			io.WriteString(h.stdin, input)
		}()
	}

	return h, nil
}

// scriptIsPowerShell reports whether path names a PowerShell script.
func scriptIsPowerShell(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".ps1")
}
