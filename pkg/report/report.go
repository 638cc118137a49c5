// Package report turns per-host failures into operator-facing records.
package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/a12rta/pkg/core"
)

// Record is one reported failure.
type Record struct {
	Time     time.Time        `json:"time"`
	RunID    string           `json:"run_id,omitempty"`
	Host     string           `json:"host"`
	File     string           `json:"file"`
	Kind     core.FailureKind `json:"kind"`
	Command  string           `json:"command,omitempty"`
	ExitCode int              `json:"exit_code,omitempty"`
	Stdout   string           `json:"stdout,omitempty"`
	Stderr   string           `json:"stderr,omitempty"`
	Summary  string           `json:"summary"`
	Err      string           `json:"error"`
}

// FromError builds a record for a failure of the source watching file on host.
func FromError(runID, host, file string, err error, at time.Time) Record {
	r := Record{
		Time:  at,
		RunID: runID,
		Host:  host,
		File:  file,
		Kind:  core.KindOf(err),
		Err:   err.Error(),
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		r.Command = ce.Command
		r.ExitCode = ce.ExitCode
		r.Stdout = ce.Stdout
		r.Stderr = ce.Stderr
	}
	r.Summary = summary(r, ce)
	return r
}

func summary(r Record, ce *core.Error) string {
	switch r.Kind {
	case core.KindConnectionTimeout:
		if ce != nil && ce.Timeout > 0 {
			return fmt.Sprintf("Connection to %s timed out after %s.", r.Host, ce.Timeout)
		}
		return fmt.Sprintf("Connection to %s timed out.", r.Host)
	case core.KindAuthentication:
		return fmt.Sprintf("Authentication to %s failed.", r.Host)
	case core.KindCommand:
		return fmt.Sprintf("Error executing command on host %s: exit code %d.", r.Host, r.ExitCode)
	}
	return r.Err
}

// Reporter receives failure records.
type Reporter interface {
	Report(Record)
}

// Func adapts a plain function to a Reporter.
type Func func(Record)

func (f Func) Report(r Record) { f(r) }

// Multi sends each record to every reporter.
type Multi []Reporter

func (m Multi) Report(r Record) {
	for _, rep := range m {
		rep.Report(r)
	}
}

// LogReporter logs the full record and prints a one-line summary.
type LogReporter struct {
	logger *slog.Logger
	mu     sync.Mutex
	out    io.Writer
}

// NewLogReporter reports to logger and writes summaries to out (usually
// stderr). out may be nil.
func NewLogReporter(logger *slog.Logger, out io.Writer) *LogReporter {
	return &LogReporter{logger: logger, out: out}
}

func (l *LogReporter) Report(r Record) {
	attrs := []any{
		"run_id", r.RunID,
		"host", r.Host,
		"file", r.File,
		"kind", string(r.Kind),
		"err", r.Err,
	}
	if r.Kind == core.KindCommand {
		attrs = append(attrs,
			"command", r.Command,
			"exit_code", r.ExitCode,
			"stdout", r.Stdout,
			"stderr", r.Stderr,
		)
	}
	l.logger.Error(r.Summary, attrs...)

	if l.out == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "ERROR: %s\n", r.Summary)
}
