package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/onepush/onepush/pkg/host"
)

// execResult is the outcome of one remote command.
type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Execute runs cmd and fails if it exits non-zero.
func (c *SSHClient) Execute(ctx context.Context, cmd string) error {
	res, err := c.run(ctx, cmd)
	if err != nil {
		return err
	}
	return exitError(cmd, res)
}

// Test runs cmd as a probe. A non-zero exit status yields false.
func (c *SSHClient) Test(ctx context.Context, cmd string) (bool, error) {
	res, err := c.run(ctx, cmd)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Capture runs cmd and returns its trimmed stdout.
func (c *SSHClient) Capture(ctx context.Context, cmd string, opts host.CaptureOptions) (string, error) {
	res, err := c.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if opts.RaiseOnNonZeroExit {
		if err := exitError(cmd, res); err != nil {
			return res.Stdout, err
		}
	}
	return res.Stdout, nil
}

func exitError(cmd string, res *execResult) error {
	if res.ExitCode == 0 {
		return nil
	}
	msg := fmt.Sprintf("command exited with code %d", res.ExitCode)
	if res.Stderr != "" {
		msg += ": " + res.Stderr
	}
	return &TransportError{
		Op:       "execute",
		Err:      errors.New(msg),
		ExitCode: res.ExitCode,
	}
}

// run executes cmd in a fresh session. A command that ran to completion is
// never an error here, whatever its exit status; errors mean the command
// could not be run or its outcome is unknown.
func (c *SSHClient) run(ctx context.Context, cmd string) (*execResult, error) {
	startTime := time.Now()

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd).
		Msg("executing command")

	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, transportError("execute", fmt.Errorf("failed to create session: %w", err), true)
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
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	res := &execResult{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(startTime),
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd).
		Int("stdout_len", len(res.Stdout)).
		Int("stderr_len", len(res.Stderr)).
		Dur("duration", res.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, transportError("execute", execErr, true)
	}

	return res, nil
}
