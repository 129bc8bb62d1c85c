// Package tasks defines the provisioning tasks that converge a host to a
// manifest, orders them by their prerequisites and runs them on every host.
//
// Every task is idempotent: running setup twice against the same host
// issues no package installs, rewrites no unchanged file and requests no
// web server restart the second time.
package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/manifest"
	"github.com/onepush/onepush/pkg/telemetry"
)

// Task is one named provisioning step.
type Task struct {
	// Name identifies the task in the graph, logs and history.
	Name string

	// Notice is logged when the task starts.
	Notice string

	// Requires lists tasks that must complete on a host first.
	Requires []string

	// Roles limits the task to hosts with any of these roles. Empty means
	// every host.
	Roles []string

	// Run converges one host.
	Run func(ctx context.Context, env *Env) error
}

// Env is what a task sees while running on one host.
type Env struct {
	Host     *host.Host
	Manifest *manifest.Context

	// PublicKeys are the operator's authorized_keys lines.
	PublicKeys []string

	Log     zerolog.Logger
	Metrics *telemetry.Metrics

	task string
}
