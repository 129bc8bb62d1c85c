// Package filedeploy writes files to root-owned locations on a host and
// reports whether their content changed.
package filedeploy

import (
	"context"
	"strings"

	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/shell"
	"github.com/onepush/onepush/pkg/sudo"
)

// Artifact is a file to place on a host.
type Artifact struct {
	// Path is the absolute remote path.
	Path string
	// Content is the full file content.
	Content []byte
	// Owner, if set, is passed to chown after upload, e.g. "app:".
	Owner string
	// Mode, if set, is passed to chmod after upload, e.g. "600".
	Mode string
}

// DeployIfChanged uploads a unconditionally and reports whether the file's
// digest differs from before the upload. A missing file counts as changed.
// It never acts on the change itself.
func DeployIfChanged(ctx context.Context, h *host.Host, a Artifact) (bool, error) {
	before, err := sudo.Capture(ctx, h, shell.Tolerant(shell.New("sha256sum", a.Path).Raw("2>/dev/null").String()))
	if err != nil {
		return false, err
	}

	if err := Put(ctx, h, a); err != nil {
		return false, err
	}

	after, err := sudo.Capture(ctx, h, shell.New("sha256sum", a.Path).String())
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(before) != strings.TrimSpace(after), nil
}

// WriteOnce uploads a only if nothing exists at its path yet and reports
// whether it wrote.
func WriteOnce(ctx context.Context, h *host.Host, a Artifact) (bool, error) {
	missing, err := sudo.Test(ctx, h, shell.Missing(a.Path))
	if err != nil || !missing {
		return false, err
	}
	if err := Put(ctx, h, a); err != nil {
		return false, err
	}
	return true, nil
}

// Put uploads a and applies its owner and mode.
func Put(ctx context.Context, h *host.Host, a Artifact) error {
	if err := sudo.Upload(ctx, h, a.Content, a.Path); err != nil {
		return err
	}

	var fixups []string
	if a.Owner != "" {
		fixups = append(fixups, shell.New("chown", a.Owner, a.Path).String())
	}
	if a.Mode != "" {
		fixups = append(fixups, shell.New("chmod", a.Mode, a.Path).String())
	}
	if len(fixups) == 0 {
		return nil
	}
	return sudo.Run(ctx, h, shell.And(fixups...))
}
