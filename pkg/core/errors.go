package core

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind tags why a line source stopped.
type FailureKind string

const (
	KindConnectionTimeout FailureKind = "connection_timeout"
	KindAuthentication    FailureKind = "authentication"
	KindTransport         FailureKind = "transport"
	KindCommand           FailureKind = "command"
)

// Error is a per-host failure. The operation that fails chooses the Kind.
type Error struct {
	Kind FailureKind
	Host string
	Op   string

	// Set for KindCommand.
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string

	// Set for KindConnectionTimeout.
	Timeout time.Duration

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConnectionTimeout:
		return fmt.Sprintf("connection to %s timed out after %s", e.Host, e.Timeout)
	case KindCommand:
		return fmt.Sprintf("command %q on %s exited with code %d", e.Command, e.Host, e.ExitCode)
	case KindAuthentication:
		return fmt.Sprintf("authentication to %s failed: %v", e.Host, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Host, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ConnectionTimeout reports that session establishment exceeded timeout.
func ConnectionTimeout(host string, timeout time.Duration, err error) *Error {
	return &Error{Kind: KindConnectionTimeout, Host: host, Op: "connect", Timeout: timeout, Err: err}
}

// AuthenticationFailure reports that the host rejected our credentials.
func AuthenticationFailure(host string, err error) *Error {
	return &Error{Kind: KindAuthentication, Host: host, Op: "connect", Err: err}
}

// TransportFailure reports any other connection or session level error.
func TransportFailure(host, op string, err error) *Error {
	return &Error{Kind: KindTransport, Host: host, Op: op, Err: err}
}

// CommandFailure reports a remote command that exited non-zero.
func CommandFailure(host string, res CommandResult) *Error {
	return &Error{
		Kind:     KindCommand,
		Host:     host,
		Op:       "run",
		Command:  res.Command,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

// KindOf returns the failure kind carried by err. Errors that were not raised
// as an *Error are transport failures.
func KindOf(err error) FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}
