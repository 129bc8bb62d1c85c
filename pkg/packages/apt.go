package packages

import (
	"context"
	"fmt"
	"strings"

	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/shell"
	"github.com/onepush/onepush/pkg/sudo"
)

// UpdateStamp is touched after every successful "apt-get update".
const UpdateStamp = "/var/lib/apt/periodic/update-success-stamp"

// FreshnessThreshold is how long the package index is considered current.
const FreshnessThreshold = 2 * 24 * 60 * 60 // seconds

// Apt manages packages on Debian-family hosts.
type Apt struct{}

// CheckInstalled implements Manager.
func (Apt) CheckInstalled(ctx context.Context, h *host.Host, names []string) (map[string]bool, error) {
	cmd := shell.Tolerant(shell.New("dpkg-query", "-s").Arg(names...).
		Raw("2>/dev/null | grep '^Package: '").String())
	out, err := capture(ctx, h, cmd)
	if err != nil {
		return nil, err
	}

	installed := make(map[string]bool)
	for _, l := range lines(out) {
		installed[strings.TrimPrefix(l, "Package: ")] = true
	}

	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = installed[name]
	}
	return result, nil
}

// Install implements Manager. The package index is refreshed first unless
// it was refreshed earlier in this run or within FreshnessThreshold.
func (a Apt) Install(ctx context.Context, h *host.Host, names []string) (int, error) {
	missing, err := Missing(ctx, a, h, names)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}

	if !h.Props.PackagesRefreshed {
		fresh, err := h.Remote.Test(ctx, shell.Bash(freshnessScript()))
		if err != nil {
			return 0, err
		}
		if !fresh {
			if err := Refresh(ctx, h); err != nil {
				return 0, err
			}
		}
	}

	if err := sudo.Run(ctx, h, shell.New("apt-get", "install", "-y").Arg(missing...).String()); err != nil {
		return 0, err
	}
	return len(missing), nil
}

// Refresh runs "apt-get update", touches UpdateStamp and marks the host as
// refreshed for the rest of the run.
func Refresh(ctx context.Context, h *host.Host) error {
	err := sudo.Run(ctx, h, shell.And(
		"apt-get update",
		shell.New("touch", UpdateStamp).String(),
	))
	if err != nil {
		return err
	}
	h.Props.PackagesRefreshed = true
	return nil
}

func freshnessScript() string {
	return shell.And(
		shell.Exists(UpdateStamp),
		"timestamp=`stat -c %Y "+UpdateStamp+"`",
		"threshold=`date +%s`",
		fmt.Sprintf("(( threshold = threshold - %d ))", FreshnessThreshold),
		`[[ "$timestamp" -gt "$threshold" ]]`,
	)
}
