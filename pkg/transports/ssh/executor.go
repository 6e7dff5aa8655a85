package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Run executes a command on the remote host. Without a context deadline
// the configured CommandTimeout applies.
func (c *SSHClient) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	finalCmd := cmd
	if c.config.Sudo {
		finalCmd = "sudo -n " + cmd
	}
	return c.execute(ctx, finalCmd)
}

// execute is the internal implementation of command execution.
func (c *SSHClient) execute(ctx context.Context, cmd string) (*ExecResult, error) {
	startTime := time.Now()
	result := &ExecResult{Command: cmd, ExitCode: -1}

	c.logger.Debug().Str("command", cmd).Msg("Executing command")

	sshClient, err := c.getClient()
	if err != nil {
		return result, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return result, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		// Not every server honours signals; closing the session unblocks Run.
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-doneChan
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result.Duration = time.Since(startTime)
	result.Stdout = strings.TrimSpace(stdoutBuf.String())
	result.Stderr = strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("Command completed")

	if execErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(execErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:  "exec",
			Err: fmt.Errorf("command exited with code %d: %s", result.ExitCode, result.Stderr),
		}
	}

	return result, &TransportError{
		Op:          "exec",
		Err:         execErr,
		IsTemporary: true,
	}
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@%+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
