// Package host models one provisioning target: its address, login user,
// roles, OS family, the connection used to reach it and the facts detected
// on it during a run.
package host

import (
	"context"
	"slices"
)

// Standard roles assigned to inventory hosts.
const (
	RoleWeb = "web"
	RoleApp = "app"
	RoleDB  = "db"
)

// DefaultRoles are assigned when an inventory entry names none.
var DefaultRoles = []string{RoleWeb, RoleApp, RoleDB}

// Superuser is the login name that never needs privilege escalation.
const Superuser = "root"

// CaptureOptions controls Remote.Capture.
type CaptureOptions struct {
	// RaiseOnNonZeroExit makes a non-zero exit status an error. When false,
	// the output is returned regardless of the exit status.
	RaiseOnNonZeroExit bool
}

// Remote is the execution substrate for one host.
type Remote interface {
	// Execute runs cmd and fails if it exits non-zero.
	Execute(ctx context.Context, cmd string) error

	// Test runs cmd as a probe. A non-zero exit status yields false, not an
	// error; errors are reserved for transport failures.
	Test(ctx context.Context, cmd string) (bool, error)

	// Capture runs cmd and returns its trimmed stdout.
	Capture(ctx context.Context, cmd string, opts CaptureOptions) (string, error)

	// Upload writes content to remotePath as the login user.
	Upload(ctx context.Context, content []byte, remotePath string) error

	// Download reads remotePath as the login user.
	Download(ctx context.Context, remotePath string) ([]byte, error)
}

// Host is one remote target.
//
// A Host and its Properties belong to a single execution context and are not
// safe for concurrent use.
type Host struct {
	// Address is the hostname or IP address, optionally with ":port".
	Address string

	// User is the SSH login user.
	User string

	// Roles are the tags used to select which tasks run here.
	Roles []string

	// OS is the host's OS family.
	OS OSFamily

	// Remote executes commands on the host.
	Remote Remote

	// Props holds facts detected during the current run.
	Props Properties
}

// New creates a host with an empty property record. With no roles given,
// DefaultRoles are assigned.
func New(address, user string, os OSFamily, remote Remote, roles ...string) *Host {
	if len(roles) == 0 {
		roles = slices.Clone(DefaultRoles)
	}
	return &Host{
		Address: address,
		User:    user,
		Roles:   roles,
		OS:      os,
		Remote:  remote,
	}
}

// HasRole reports whether the host carries role.
func (h *Host) HasRole(role string) bool {
	return slices.Contains(h.Roles, role)
}

// HasAnyRole reports whether the host carries at least one of roles. An
// empty list matches every host.
func (h *Host) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if h.HasRole(r) {
			return true
		}
	}
	return false
}

// IsSuperuser reports whether the login user is root.
func (h *Host) IsSuperuser() bool {
	return h.User == Superuser
}

// String returns user@address.
func (h *Host) String() string {
	return h.User + "@" + h.Address
}
