package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/onepush/onepush/pkg/engine"
)

// OSFamily is the closed set of supported operating system families.
type OSFamily int

const (
	// OSUnknown is the zero value; it is never valid on a host in a run.
	OSUnknown OSFamily = iota
	// RedHat covers RHEL, CentOS, Fedora and derivatives (rpm/yum).
	RedHat
	// Debian covers Debian, Ubuntu and derivatives (dpkg/apt).
	Debian
)

// String returns the lowercase family name.
func (f OSFamily) String() string {
	switch f {
	case RedHat:
		return "redhat"
	case Debian:
		return "debian"
	default:
		return "unknown"
	}
}

// Valid reports whether f is one of the supported families.
func (f OSFamily) Valid() bool {
	return f == RedHat || f == Debian
}

// ParseOSFamily parses "redhat" or "debian".
func ParseOSFamily(s string) (OSFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "redhat", "rhel", "centos", "fedora":
		return RedHat, nil
	case "debian", "ubuntu":
		return Debian, nil
	default:
		return OSUnknown, engine.NewConfigurationError(
			fmt.Sprintf("unsupported OS family %q (expected redhat or debian)", s), nil,
		).WithCode(engine.ErrCodeUnsupportedOS)
	}
}

// DetectOSFamily probes the release files that identify each family.
func DetectOSFamily(ctx context.Context, r Remote) (OSFamily, error) {
	ok, err := r.Test(ctx, "[[ -e /etc/redhat-release ]]")
	if err != nil {
		return OSUnknown, err
	}
	if ok {
		return RedHat, nil
	}

	ok, err = r.Test(ctx, "[[ -e /etc/debian_version ]]")
	if err != nil {
		return OSUnknown, err
	}
	if ok {
		return Debian, nil
	}

	return OSUnknown, engine.NewEnvironmentError(
		"unsupported OS family: neither /etc/redhat-release nor /etc/debian_version exists", nil,
	).WithCode(engine.ErrCodeUnsupportedOS)
}
