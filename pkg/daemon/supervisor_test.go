package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/modoterra/a12rta/internal/testutil"
	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/report"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		got := backoff(tt.failures)
		if got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSpec(host string) core.HostSpec {
	return core.HostSpec{
		Name:              host,
		Host:              host,
		LogFile:           "/var/log/app.log",
		Delay:             time.Millisecond,
		BufferLines:       10,
		LoginTimeout:      time.Second,
		CommandTimeout:    time.Second,
		Mode:              core.ModeSnapshot,
		ReconnectInterval: time.Minute,
		Restart:           core.RestartNever,
	}
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []core.LogLine
}

func (r *lineRecorder) Write(l core.LogLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, l)
	return nil
}

func (r *lineRecorder) byHost(host string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.Host == host {
			out = append(out, l.Text)
		}
	}
	return out
}

func (r *lineRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

type recordSink struct {
	mu      sync.Mutex
	records []report.Record
}

func (r *recordSink) Report(rec report.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordSink) kinds() map[string]core.FailureKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]core.FailureKind)
	for _, rec := range r.records {
		out[rec.Host] = rec.Kind
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func startSupervisor(s *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop")
		return nil
	}
}

func sourceByHost(s *Supervisor, host string) core.SourceInfo {
	for _, info := range s.Sources() {
		if info.Host == host {
			return info
		}
	}
	return core.SourceInfo{}
}

func TestOneHostFailingDoesNotStopOthers(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("ok", &testutil.Host{Run: testutil.Batches([]string{"l1", "l2"}, []string{"l2", "l3"})})
	tr.Add("slow", &testutil.Host{Hang: true})
	tr.Add("denied", &testutil.Host{DialErr: core.AuthenticationFailure("denied", errors.New("no keys"))})

	slow := testSpec("slow")
	slow.LoginTimeout = 30 * time.Millisecond
	specs := []core.HostSpec{testSpec("ok"), slow, testSpec("denied")}

	lines := &lineRecorder{}
	reports := &recordSink{}
	s := NewSupervisor(specs, tr, WithLogger(quietLogger()), WithSink(lines), WithReporter(reports))
	done := startSupervisor(s)

	waitFor(t, func() bool { return len(reports.kinds()) == 2 && len(lines.byHost("ok")) == 3 })
	if got := sourceByHost(s, "ok").Status; got != core.StatusPolling {
		t.Errorf("healthy host status: got %s, want polling", got)
	}

	s.Shutdown()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]core.FailureKind{
		"slow":   core.KindConnectionTimeout,
		"denied": core.KindAuthentication,
	}
	if got := reports.kinds(); !maps.Equal(got, want) {
		t.Errorf("reported kinds: got %v, want %v", got, want)
	}
	if got := lines.byHost("ok"); !slices.Equal(got, []string{"l1", "l2", "l3"}) {
		t.Errorf("healthy host lines: got %v", got)
	}
	for _, info := range s.Sources() {
		switch info.Host {
		case "ok":
			if info.Status != core.StatusStopped {
				t.Errorf("ok: got %s, want stopped", info.Status)
			}
		default:
			if info.Status != core.StatusFailed || info.LastError == "" {
				t.Errorf("%s: got %s %q, want failed with error", info.Host, info.Status, info.LastError)
			}
		}
	}
}

func TestSlowHostDoesNotDelayOthers(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("fast", &testutil.Host{Run: testutil.Batches([]string{"x"})})
	tr.Add("slow", &testutil.Host{Hang: true})

	slow := testSpec("slow")
	slow.LoginTimeout = 10 * time.Second
	lines := &lineRecorder{}
	s := NewSupervisor([]core.HostSpec{slow, testSpec("fast")}, tr,
		WithLogger(quietLogger()), WithSink(lines), WithReporter(&recordSink{}))
	done := startSupervisor(s)

	start := time.Now()
	waitFor(t, func() bool { return len(lines.byHost("fast")) == 1 })
	if time.Since(start) > time.Second {
		t.Error("fast host was held up by the slow one")
	}
	s.Shutdown()
	waitRun(t, done)
}

func TestShutdownDrainsEveryAdmittedLine(t *testing.T) {
	tr := testutil.NewTransport()
	var specs []core.HostSpec
	for i := range 4 {
		host := fmt.Sprintf("h%d", i)
		var batches [][]string
		for b := range 50 {
			batches = append(batches, []string{fmt.Sprintf("%s-%d", host, b)})
		}
		tr.Add(host, &testutil.Host{Run: testutil.Batches(batches...)})
		specs = append(specs, testSpec(host))
	}

	lines := &lineRecorder{}
	s := NewSupervisor(specs, tr, WithLogger(quietLogger()), WithSink(lines),
		WithReporter(&recordSink{}), WithQueueSize(2), WithGrace(2*time.Second))
	done := startSupervisor(s)

	waitFor(t, func() bool { return lines.count() > 20 })
	s.Shutdown()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}

	var admitted uint64
	for _, info := range s.Sources() {
		admitted += info.Lines
	}
	if uint64(lines.count()) != admitted {
		t.Errorf("rendered %d lines, sources admitted %d", lines.count(), admitted)
	}
	if s.Consumed() != admitted {
		t.Errorf("consumed %d, admitted %d", s.Consumed(), admitted)
	}
	for i := range 4 {
		host := fmt.Sprintf("h%d", i)
		for j, text := range lines.byHost(host) {
			if want := fmt.Sprintf("%s-%d", host, j); text != want {
				t.Fatalf("%s: line %d is %s, want %s", host, j, text, want)
			}
		}
	}
}

func TestRunEndsWhenEverySourceFailed(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("a", &testutil.Host{Run: testutil.FailTail(1, "No such file or directory")})
	tr.Add("b", &testutil.Host{DialErr: errors.New("connection refused")})

	reports := &recordSink{}
	s := NewSupervisor([]core.HostSpec{testSpec("a"), testSpec("b")}, tr,
		WithLogger(quietLogger()), WithReporter(reports))
	if err := waitRun(t, startSupervisor(s)); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]core.FailureKind{"a": core.KindCommand, "b": core.KindTransport}
	if got := reports.kinds(); !maps.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if tr.Dials() != 2 {
		t.Errorf("hosts must not be retried by default, dials %d", tr.Dials())
	}
	for _, rec := range reports.records {
		if rec.RunID != s.RunID() {
			t.Errorf("record run id %q, want %q", rec.RunID, s.RunID())
		}
	}
}

func TestRestartOnFailure(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("flaky", &testutil.Host{Run: testutil.FailTail(1, "")})
	spec := testSpec("flaky")
	spec.Restart = core.RestartOnFailure

	var mu sync.Mutex
	var seen []core.Status
	s := NewSupervisor([]core.HostSpec{spec}, tr, WithLogger(quietLogger()), WithReporter(&recordSink{}),
		WithStatusListener(func(info core.SourceInfo) {
			mu.Lock()
			seen = append(seen, info.Status)
			mu.Unlock()
		}))
	s.backoff = func(int) time.Duration { return 5 * time.Millisecond }
	done := startSupervisor(s)

	waitFor(t, func() bool { return sourceByHost(s, "flaky").Restarts >= 2 })
	s.Shutdown()
	waitRun(t, done)

	if tr.Dials() < 3 {
		t.Errorf("expected at least 3 dials, got %d", tr.Dials())
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(seen, core.StatusRestarting) || !slices.Contains(seen, core.StatusFailed) {
		t.Errorf("status history missing failed/restarting: %v", seen)
	}
	if seen[len(seen)-1] != core.StatusStopped {
		t.Errorf("final status: got %s, want stopped", seen[len(seen)-1])
	}
}

func TestShutdownDuringBackoff(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("flaky", &testutil.Host{Run: testutil.FailTail(2, "")})
	spec := testSpec("flaky")
	spec.Restart = core.RestartOnFailure

	s := NewSupervisor([]core.HostSpec{spec}, tr, WithLogger(quietLogger()), WithReporter(&recordSink{}))
	s.backoff = func(int) time.Duration { return time.Hour }
	done := startSupervisor(s)

	waitFor(t, func() bool { return sourceByHost(s, "flaky").Status == core.StatusRestarting })
	s.Shutdown()
	if err := waitRun(t, done); err != nil {
		t.Fatal(err)
	}
	if got := sourceByHost(s, "flaky").Status; got != core.StatusStopped {
		t.Errorf("got %s, want stopped", got)
	}
}

func TestShutdownBeforeRun(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("h", &testutil.Host{})
	s := NewSupervisor([]core.HostSpec{testSpec("h")}, tr, WithLogger(quietLogger()))
	s.Shutdown()
	s.Shutdown()
	if err := waitRun(t, startSupervisor(s)); err != nil {
		t.Fatal(err)
	}
}

func TestCancelledSourcesAreNotReported(t *testing.T) {
	tr := testutil.NewTransport()
	tr.Add("h", &testutil.Host{Run: testutil.Batches([]string{"a"})})
	reports := &recordSink{}
	s := NewSupervisor([]core.HostSpec{testSpec("h")}, tr, WithLogger(quietLogger()), WithReporter(reports))
	done := startSupervisor(s)

	waitFor(t, func() bool { return sourceByHost(s, "h").Status == core.StatusPolling })
	s.Shutdown()
	waitRun(t, done)
	if n := len(reports.kinds()); n != 0 {
		t.Errorf("cancellation must not be reported, got %d records", n)
	}
}
