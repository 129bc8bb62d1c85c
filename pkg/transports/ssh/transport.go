// Package ssh provides the SSH transport used to reach target hosts.
//
// SSHClient implements host.Remote: commands run in exec sessions, probes
// map a non-zero exit status to false and file contents move over SFTP.
package ssh

import (
	"errors"
	"time"

	"github.com/onepush/onepush/pkg/host"
)

var _ host.Remote = (*SSHClient)(nil)

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// ExitCode is the remote exit status for commands that ran and failed,
	// -1 otherwise.
	ExitCode int

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// ExitStatus returns the remote exit status carried by err, if any.
func ExitStatus(err error) (int, bool) {
	var te *TransportError
	if errors.As(err, &te) && te.ExitCode >= 0 {
		return te.ExitCode, true
	}
	return 0, false
}

func transportError(op string, err error, temporary bool) *TransportError {
	return &TransportError{Op: op, Err: err, ExitCode: -1, IsTemporary: temporary}
}
