// Package sudo runs commands on a host with root privileges.
//
// Commands for a root login run in a pipefail bash shell as-is. For any other
// login the first escalated command checks, once per host, that sudo exists
// and works without a password; every command is then run through
// "/usr/bin/sudo -k -n -H".
package sudo

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/shell"
)

// Helper is the absolute path of the escalation helper.
const Helper = "/usr/bin/sudo"

// TempDirTemplate is the mktemp template used for staged uploads.
const TempDirTemplate = "/tmp/onepush.XXXXXXXX"

// Verify checks that h can escalate without a prompt. The result is cached
// on the host; later calls return immediately.
func Verify(ctx context.Context, h *host.Host) error {
	if h.IsSuperuser() || h.Props.EscalationVerified {
		return nil
	}

	installed, err := h.Remote.Test(ctx, shell.Exists(Helper))
	if err != nil {
		return err
	}
	if !installed {
		return engine.NewEnvironmentError(
			"Onepush requires 'sudo' to be installed on the server. Please install it first.", nil,
		).WithCode(engine.ErrCodeSudoMissing).WithHost(h.Address)
	}

	passwordless, err := h.Remote.Test(ctx, shell.New(Helper, "-k", "-n", "true").String())
	if err != nil {
		return err
	}
	if !passwordless {
		return engine.NewEnvironmentError(passwordMessage(h.User), nil).
			WithCode(engine.ErrCodeSudoPassword).
			WithHost(h.Address)
	}

	h.Props.EscalationVerified = true
	return nil
}

func passwordMessage(user string) string {
	return fmt.Sprintf("Sudo needs a password for the '%s' user. However, Onepush "+
		"needs sudo to *not* ask for a password. Please *temporarily* configure "+
		"sudo to allow the '%s' user to run it without a password.\n\n"+
		"Open the sudo configuration file:\n"+
		"  sudo visudo\n\n"+
		"Then insert:\n"+
		"  # Remove this entry later. Onepush only needs it temporarily.\n"+
		"  %s ALL=(ALL) NOPASSWD: ALL", user, user, user)
}

// Wrap returns script as an escalated command line for h.
func Wrap(ctx context.Context, h *host.Host, script string) (string, error) {
	if h.IsSuperuser() {
		return shell.Bash(script), nil
	}
	if err := Verify(ctx, h); err != nil {
		return "", err
	}
	return shell.New(Helper, "-k", "-n", "-H").String() + " " + shell.Bash(script), nil
}

// Run executes script with root privileges. A non-zero exit is a remote error.
func Run(ctx context.Context, h *host.Host, script string) error {
	cmd, err := Wrap(ctx, h, script)
	if err != nil {
		return err
	}
	if err := h.Remote.Execute(ctx, cmd); err != nil {
		return remoteError(h, script, err)
	}
	return nil
}

// Test runs script with root privileges as a probe.
func Test(ctx context.Context, h *host.Host, script string) (bool, error) {
	cmd, err := Wrap(ctx, h, script)
	if err != nil {
		return false, err
	}
	return h.Remote.Test(ctx, cmd)
}

// Capture runs script with root privileges and returns its output. A
// non-zero exit is a remote error.
func Capture(ctx context.Context, h *host.Host, script string) (string, error) {
	cmd, err := Wrap(ctx, h, script)
	if err != nil {
		return "", err
	}
	out, err := h.Remote.Capture(ctx, cmd, host.CaptureOptions{RaiseOnNonZeroExit: true})
	if err != nil {
		return "", remoteError(h, script, err)
	}
	return out, nil
}

// Download reads a file the login user may not be able to read.
func Download(ctx context.Context, h *host.Host, remotePath string) (string, error) {
	return Capture(ctx, h, shell.New("cat", remotePath).String())
}

// Upload writes content to a root-owned location. The content is staged in
// a fresh temp directory as the login user, then moved into place as root.
// The temp directory is removed even when the move fails.
func Upload(ctx context.Context, h *host.Host, content []byte, remotePath string) (err error) {
	tmpdir, err := h.Remote.Capture(ctx, shell.New("mktemp", "-d", TempDirTemplate).String(),
		host.CaptureOptions{RaiseOnNonZeroExit: true})
	if err != nil {
		return remoteError(h, "mktemp -d "+TempDirTemplate, err)
	}
	tmpdir = strings.TrimSpace(tmpdir)
	defer func() {
		if cleanupErr := Run(ctx, h, shell.New("rm", "-rf", tmpdir).String()); cleanupErr != nil && err == nil {
			err = cleanupErr
		}
	}()

	staged := path.Join(tmpdir, "file")
	if err := h.Remote.Upload(ctx, content, staged); err != nil {
		return engine.NewRemoteError(fmt.Sprintf("failed to upload %s", remotePath), err).
			WithCode(engine.ErrCodeCommandFailed).
			WithHost(h.Address)
	}

	return Run(ctx, h, shell.And(
		shell.New("chown", "root:", staged).String(),
		shell.New("mv", staged, remotePath).String(),
	))
}

func remoteError(h *host.Host, script string, err error) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return engine.NewRemoteError(fmt.Sprintf("command failed: %s", script), err).
		WithCode(engine.ErrCodeCommandFailed).
		WithHost(h.Address).
		WithDetail("command", script)
}
