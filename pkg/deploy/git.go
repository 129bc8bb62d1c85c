package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Git is the local repository a push reads from.
type Git interface {
	// CurrentRevision returns the checked-out branch name.
	CurrentRevision(ctx context.Context) (string, error)
	// Push force-pushes revision to the master branch of url.
	Push(ctx context.Context, url, revision string) error
}

// GitCLI runs the git executable.
type GitCLI struct {
	// Dir is the working tree. Empty means the current directory.
	Dir string
	// Binary defaults to "git" on PATH.
	Binary string
}

func (g GitCLI) command(ctx context.Context, args ...string) *exec.Cmd {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	if g.Dir != "" {
		args = append([]string{"-C", g.Dir}, args...)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

func (g GitCLI) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := g.command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("git: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentRevision implements Git.
func (g GitCLI) CurrentRevision(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Push implements Git.
func (g GitCLI) Push(ctx context.Context, url, revision string) error {
	_, err := g.run(ctx, "push", url, revision+":master", "-f")
	return err
}
