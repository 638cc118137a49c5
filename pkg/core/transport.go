package core

import (
	"context"
	"io"
)

// Transport opens remote command sessions. The SSH implementation lives in
// pkg/transport/ssh; tests use internal/testutil.
type Transport interface {
	// Dial opens a session to the host described by spec. The context bounds
	// connection establishment only.
	Dial(ctx context.Context, spec HostSpec) (Session, error)
}

// Session runs commands on one connected host.
type Session interface {
	// Run executes cmd and returns its captured output. A non-zero exit status
	// is returned as an *Error of KindCommand.
	Run(ctx context.Context, cmd string) (CommandResult, error)

	// Stream starts cmd and returns its stdout as it is produced.
	Stream(ctx context.Context, cmd string) (Stream, error)

	// Close releases the underlying connection. It is safe to call twice.
	Close() error
}

// Stream is the stdout of a long-running remote command.
type Stream interface {
	io.Reader

	// Wait blocks until the command exits after its output is drained. A
	// non-zero exit status is returned as an *Error of KindCommand.
	Wait() error

	// Close terminates the remote command. It is safe to call twice.
	Close() error
}

// CommandResult is the captured outcome of a one-shot command.
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}
