// Package engine holds the error taxonomy shared by the provisioning and
// push-deploy packages.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error by who has to act on it.
type ErrorClass string

const (
	// ErrorClassConfiguration is a problem with the manifest, the push config
	// or the command line. Detected before any remote side effect.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassEnvironment is a missing precondition on a target host, such as
	// no sudo, sudo asking for a password or an unsupported OS family.
	ErrorClassEnvironment ErrorClass = "environment"

	// ErrorClassRemote is a remote command that exited non-zero where that was
	// not explicitly tolerated.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassPush is a failed git push to a deploy target.
	ErrorClassPush ErrorClass = "push"

	// ErrorClassInternal means the tool itself reached a state it should not.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message shown to the operator.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Host is the target host address, if applicable.
	Host string `json:"host,omitempty"`

	// Operation is the task or step being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Host != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (host=%s, operation=%s)", msg, e.Host, e.Operation)
	} else if e.Host != "" {
		msg = fmt.Sprintf("%s (host=%s)", msg, e.Host)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorClassConfiguration, message, err)
}

// NewEnvironmentError creates a new environment-prerequisite error.
func NewEnvironmentError(message string, err error) *EngineError {
	return newError(ErrorClassEnvironment, message, err)
}

// NewRemoteError creates a new remote command error.
func NewRemoteError(message string, err error) *EngineError {
	return newError(ErrorClassRemote, message, err)
}

// NewPushError creates a new push error.
func NewPushError(message string, err error) *EngineError {
	return newError(ErrorClassPush, message, err)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorClassInternal, message, err)
}

// WithHost adds host context to an error.
func (e *EngineError) WithHost(host string) *EngineError {
	e.Host = host
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// ClassOf returns the class of the outermost EngineError in err's chain,
// or ErrorClassInternal if there is none.
func ClassOf(err error) ErrorClass {
	if c, ok := classOf(err); ok {
		return c
	}
	return ErrorClassInternal
}

// CodeOf returns the code of the outermost EngineError in err's chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsEnvironment returns true if the error is classified as an environment error.
func IsEnvironment(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassEnvironment
}

// IsRemote returns true if the error is classified as a remote command error.
func IsRemote(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRemote
}

// IsPush returns true if the error is classified as a push error.
func IsPush(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPush
}

// IsInternal returns true if the error is classified as an internal error.
func IsInternal(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInternal
}

// IsRetryable reports whether the run may be retried automatically. No class
// is: every failure is surfaced to the operator, who re-runs.
func IsRetryable(err error) bool {
	return false
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNoConfig        = "NO_CONFIG"
	ErrCodeSudoMissing     = "SUDO_MISSING"
	ErrCodeSudoPassword    = "SUDO_PASSWORD_REQUIRED"
	ErrCodeUnsupportedOS   = "UNSUPPORTED_OS"
	ErrCodeNotDetected     = "NOT_DETECTED"
	ErrCodeCommandFailed   = "COMMAND_FAILED"
	ErrCodeNotSetUp        = "NOT_SET_UP"
	ErrCodePushFailed      = "PUSH_FAILED"
	ErrCodeDependencyCycle = "DEPENDENCY_CYCLE"
	ErrCodeUnknownTask     = "UNKNOWN_TASK"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
