package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/a12rta/pkg/core"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    core.FailureKind
		summary string
	}{
		{
			"timeout",
			core.ConnectionTimeout("web1", 10*time.Second, context.DeadlineExceeded),
			core.KindConnectionTimeout,
			"Connection to web1 timed out after 10s.",
		},
		{
			"auth",
			core.AuthenticationFailure("web1", errors.New("no supported methods remain")),
			core.KindAuthentication,
			"Authentication to web1 failed.",
		},
		{
			"command",
			core.CommandFailure("web1", core.CommandResult{Command: "tail -n 10 /x", ExitCode: 1, Stderr: "No such file"}),
			core.KindCommand,
			"Error executing command on host web1: exit code 1.",
		},
		{
			"untagged",
			errors.New("connection reset by peer"),
			core.KindTransport,
			"connection reset by peer",
		},
		{
			"wrapped",
			fmt.Errorf("source: %w", core.TransportFailure("web1", "dial", errors.New("refused"))),
			core.KindTransport,
			"source: dial web1: refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := FromError("run-1", "web1", "/x", tt.err, at)
			if r.Kind != tt.kind {
				t.Errorf("kind: got %s, want %s", r.Kind, tt.kind)
			}
			if r.Summary != tt.summary {
				t.Errorf("summary: got %q, want %q", r.Summary, tt.summary)
			}
			if r.RunID != "run-1" || r.File != "/x" || !r.Time.Equal(at) {
				t.Errorf("metadata not carried: %+v", r)
			}
		})
	}
}

func TestFromErrorCarriesCommandOutput(t *testing.T) {
	err := core.CommandFailure("db", core.CommandResult{Command: "tail", ExitCode: 2, Stdout: "o", Stderr: "e"})
	r := FromError("", "db", "/f", err, at)
	if r.Command != "tail" || r.ExitCode != 2 || r.Stdout != "o" || r.Stderr != "e" {
		t.Errorf("got %+v", r)
	}
}

func TestLogReporter(t *testing.T) {
	var logs, out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	rep := NewLogReporter(logger, &out)

	err := core.CommandFailure("web1", core.CommandResult{Command: "tail -n 10 /x", ExitCode: 1, Stderr: "denied"})
	rep.Report(FromError("run-1", "web1", "/x", err, at))

	if got := out.String(); got != "ERROR: Error executing command on host web1: exit code 1.\n" {
		t.Errorf("summary line: got %q", got)
	}
	for _, want := range []string{"level=ERROR", "run_id=run-1", "kind=command", "exit_code=1", "stderr=denied"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q: %s", want, logs.String())
		}
	}
}

func TestLogReporterOmitsCommandFieldsForOtherKinds(t *testing.T) {
	var logs bytes.Buffer
	rep := NewLogReporter(slog.New(slog.NewTextHandler(&logs, nil)), nil)
	rep.Report(FromError("", "web1", "/x", errors.New("eof"), at))
	if strings.Contains(logs.String(), "exit_code") {
		t.Errorf("unexpected command fields: %s", logs.String())
	}
}

func TestMulti(t *testing.T) {
	var n int
	count := Func(func(Record) { n++ })
	Multi{count, count}.Report(Record{})
	if n != 2 {
		t.Errorf("got %d deliveries", n)
	}
}

func TestJournalFields(t *testing.T) {
	err := core.CommandFailure("web1", core.CommandResult{Command: "tail", ExitCode: 3})
	vars := journalFields(FromError("run-1", "web1", "/x", err, at))
	want := map[string]string{
		"A12RTA_HOST":      "web1",
		"A12RTA_RUN_ID":    "run-1",
		"A12RTA_KIND":      "command",
		"A12RTA_EXIT_CODE": "3",
		"A12RTA_COMMAND":   "tail",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("%s: got %q, want %q", k, vars[k], v)
		}
	}

	vars = journalFields(FromError("", "web1", "/x", errors.New("eof"), at))
	if _, ok := vars["A12RTA_EXIT_CODE"]; ok {
		t.Error("exit code only applies to command failures")
	}
}

func TestJournalReporterSends(t *testing.T) {
	var gotMsg string
	var gotPri journal.Priority
	j := &JournalReporter{
		logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		send: func(msg string, pri journal.Priority, vars map[string]string) error {
			gotMsg, gotPri = msg, pri
			return nil
		},
	}
	j.Report(FromError("", "web1", "/x", core.AuthenticationFailure("web1", errors.New("denied")), at))
	if gotMsg != "Authentication to web1 failed." || gotPri != journal.PriErr {
		t.Errorf("got %q at %d", gotMsg, gotPri)
	}
}
