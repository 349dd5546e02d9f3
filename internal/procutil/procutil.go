// Package procutil is the process-spawning facade shared by the compile
// rule (invoking the compiler and the GCC module mapper) and the testscript
// executor (invoking command pipelines and test programs).
package procutil

import (
	"bytes"
	"context"
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

// Result captures the outcome of a process run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner spawns processes. The default implementation shells out via
// os/exec; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error)
	// Pipe spawns a long-lived process wired to caller-controlled stdin/stdout
	// pipes, used for the GCC dynamic module mapper protocol.
	Pipe(ctx context.Context, dir string, env []string, name string, args ...string) (*PipeProc, error)
}

// PipeProc is a running process with stdin/stdout available for a
// line-oriented request/response protocol.
type PipeProc struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Wait blocks until the process exits.
func (p *PipeProc) Wait() error { return p.cmd.Wait() }

// Kill terminates the process immediately.
func (p *PipeProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// OSRunner is the real Runner, implemented with os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		// A nonzero exit is not itself a process error (spawn failure is);
		// callers interpret exit codes against the tool's own semantics.
		return res, nil
	}
	if err != nil {
		return res, errors.Wrapf(err, "spawning %s", name)
	}
	return res, nil
}

func (OSRunner) Pipe(ctx context.Context, dir string, env []string, name string, args ...string) (*PipeProc, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "spawning %s", name)
	}
	return &PipeProc{cmd: cmd, Stdin: stdin, Stdout: stdout}, nil
}
