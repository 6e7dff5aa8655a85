package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/biosctl/pkg/transports/ssh"
)

// Output is the captured result of one command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (o *Output) Success() bool {
	return o != nil && o.ExitCode == 0
}

// CommandRunner runs a shell command line. A command that ran and exited
// non-zero is reported through Output.ExitCode with a nil error; the error
// is reserved for commands that could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, cmd string) (*Output, error)
}

// RunnerFunc adapts a function to CommandRunner.
type RunnerFunc func(ctx context.Context, cmd string) (*Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd string) (*Output, error) {
	return f(ctx, cmd)
}

// LocalRunner runs commands on this machine through a POSIX shell.
type LocalRunner struct {
	// Shell defaults to /bin/sh.
	Shell  string
	Logger zerolog.Logger
}

// Run executes cmd with "<shell> -c".
func (r *LocalRunner) Run(ctx context.Context, cmd string) (*Output, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	start := time.Now()
	c := exec.CommandContext(ctx, shell, "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	out := &Output{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	r.Logger.Debug().
		Str("command", cmd).
		Dur("duration", out.Duration).
		Err(err).
		Msg("Local command finished")

	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, fmt.Errorf("failed to run command: %w", err)
}

// SSHRunner runs commands on a remote management host.
type SSHRunner struct {
	Transport ssh.Transport
}

// NewSSHRunner wraps a connected transport.
func NewSSHRunner(t ssh.Transport) *SSHRunner {
	return &SSHRunner{Transport: t}
}

// Run executes cmd over SSH.
func (r *SSHRunner) Run(ctx context.Context, cmd string) (*Output, error) {
	res, err := r.Transport.Run(ctx, cmd)
	if res == nil {
		if err == nil {
			err = fmt.Errorf("transport returned no result")
		}
		return nil, err
	}
	out := &Output{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}
	if err != nil && res.ExitCode <= 0 {
		return out, err
	}
	return out, nil
}

// Probe verifies the SSH connection is alive.
func (r *SSHRunner) Probe(ctx context.Context) error {
	return r.Transport.HealthCheck(ctx)
}
