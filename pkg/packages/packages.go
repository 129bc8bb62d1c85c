// Package packages checks for and installs OS packages on a host, skipping
// packages that are already present.
package packages

import (
	"context"
	"fmt"
	"strings"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/shell"
	"github.com/onepush/onepush/pkg/sudo"
)

// Manager is the package manager of one OS family.
type Manager interface {
	// CheckInstalled reports, for every name, whether it is installed.
	CheckInstalled(ctx context.Context, h *host.Host, names []string) (map[string]bool, error)

	// Install installs the names that are missing and returns how many
	// that was.
	Install(ctx context.Context, h *host.Host, names []string) (int, error)
}

// For returns the manager for family.
func For(family host.OSFamily) (Manager, error) {
	switch family {
	case host.RedHat:
		return Yum{}, nil
	case host.Debian:
		return Apt{}, nil
	}
	return nil, engine.NewInternalError(
		fmt.Sprintf("no package manager for OS family %s", family), nil,
	).WithCode(engine.ErrCodeUnsupportedOS)
}

// Install installs the missing names on h using its family's manager.
func Install(ctx context.Context, h *host.Host, names ...string) (int, error) {
	m, err := For(h.OS)
	if err != nil {
		return 0, err
	}
	return m.Install(ctx, h, names)
}

// Missing filters names down to those not installed, keeping their order.
func Missing(ctx context.Context, m Manager, h *host.Host, names []string) ([]string, error) {
	installed, err := m.CheckInstalled(ctx, h, names)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range names {
		if !installed[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func capture(ctx context.Context, h *host.Host, cmd string) (string, error) {
	return h.Remote.Capture(ctx, cmd, host.CaptureOptions{RaiseOnNonZeroExit: true})
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Yum manages packages on RedHat-family hosts.
type Yum struct{}

// CheckInstalled implements Manager.
func (Yum) CheckInstalled(ctx context.Context, h *host.Host, names []string) (map[string]bool, error) {
	cmd := shell.Tolerant(shell.New("rpm", "-q").Arg(names...).
		Raw("2>&1 | grep 'is not installed$'").String())
	out, err := capture(ctx, h, cmd)
	if err != nil {
		return nil, err
	}

	notInstalled := make(map[string]bool)
	for _, l := range lines(out) {
		name := strings.TrimSuffix(strings.TrimPrefix(l, "package "), " is not installed")
		notInstalled[name] = true
	}

	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = !notInstalled[name]
	}
	return result, nil
}

// Install implements Manager.
func (y Yum) Install(ctx context.Context, h *host.Host, names []string) (int, error) {
	missing, err := Missing(ctx, y, h, names)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := sudo.Run(ctx, h, shell.New("yum", "install", "-y").Arg(missing...).String()); err != nil {
		return 0, err
	}
	return len(missing), nil
}
