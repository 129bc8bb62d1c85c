// Package stores records the history of setup and push runs in SQLite.
// Each run has a row in runs and an append-only trail of per-host, per-task
// events.
package stores
