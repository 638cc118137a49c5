// Package testutil provides a scripted in-memory core.Transport for tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modoterra/a12rta/pkg/core"
)

// Transport hands out scripted sessions per host name.
type Transport struct {
	mu    sync.Mutex
	hosts map[string]*Host
	dials atomic.Int32
}

// NewTransport creates an empty scripted transport.
func NewTransport() *Transport {
	return &Transport{hosts: make(map[string]*Host)}
}

// Host scripts the behaviour of one remote host.
type Host struct {
	// DialErr is returned by Dial when set.
	DialErr error
	// Hang makes Dial block until its context is done.
	Hang bool
	// IgnoreContext makes a hanging Dial ignore cancellation entirely.
	IgnoreContext bool
	// Run answers one-shot commands. Defaults to Batches().
	Run func(ctx context.Context, cmd string) (core.CommandResult, error)
	// Streams are returned by successive Stream calls; the last one repeats.
	Streams []*Stream

	mu       sync.Mutex
	streamN  int
	sessions []*Session
}

// Add registers a host script under name and returns it.
func (t *Transport) Add(name string, h *Host) *Host {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hosts[name] = h
	return h
}

// Dials returns how many times Dial was called.
func (t *Transport) Dials() int { return int(t.dials.Load()) }

// Dial implements core.Transport.
func (t *Transport) Dial(ctx context.Context, spec core.HostSpec) (core.Session, error) {
	t.dials.Add(1)
	t.mu.Lock()
	h, ok := t.hosts[spec.Host]
	t.mu.Unlock()
	if !ok {
		return nil, errors.New("no route to host " + spec.Host)
	}
	if h.Hang {
		if h.IgnoreContext {
			select {}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if h.DialErr != nil {
		return nil, h.DialErr
	}
	s := &Session{host: h, spec: spec}
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	return s, nil
}

// Sessions returns every session handed out for this host.
func (h *Host) Sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Session(nil), h.sessions...)
}

// Session is a scripted core.Session.
type Session struct {
	host   *Host
	spec   core.HostSpec
	closed atomic.Bool

	mu       sync.Mutex
	commands []string
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Commands returns the commands run so far.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Run implements core.Session.
func (s *Session) Run(ctx context.Context, cmd string) (core.CommandResult, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	if s.closed.Load() {
		return core.CommandResult{}, errors.New("session closed")
	}
	run := s.host.Run
	if run == nil {
		run = Batches()
	}
	res, err := run(ctx, cmd)
	res.Command = cmd
	if err == nil && res.ExitCode != 0 {
		return res, core.CommandFailure(s.spec.Host, res)
	}
	return res, err
}

// Stream implements core.Session.
func (s *Session) Stream(ctx context.Context, cmd string) (core.Stream, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Streams) == 0 {
		return nil, errors.New("no stream scripted")
	}
	i := min(h.streamN, len(h.Streams)-1)
	h.streamN++
	st := h.Streams[i]
	return st.open(s.spec.Host, cmd), nil
}

// Close implements core.Session.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Batches answers the verify command with "test" and every other command with
// the next batch, repeating the last batch forever.
func Batches(batches ...[]string) func(context.Context, string) (core.CommandResult, error) {
	var mu sync.Mutex
	n := 0
	return func(_ context.Context, cmd string) (core.CommandResult, error) {
		if strings.HasPrefix(cmd, "echo") {
			return core.CommandResult{Stdout: "test\n"}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if len(batches) == 0 {
			return core.CommandResult{}, nil
		}
		b := batches[min(n, len(batches)-1)]
		n++
		out := strings.Join(b, "\n")
		if out != "" {
			out += "\n"
		}
		return core.CommandResult{Stdout: out}, nil
	}
}

// FailTail answers the verify command and fails every tail with exitCode.
func FailTail(exitCode int, stderr string) func(context.Context, string) (core.CommandResult, error) {
	return func(_ context.Context, cmd string) (core.CommandResult, error) {
		if strings.HasPrefix(cmd, "echo") {
			return core.CommandResult{Stdout: "test\n"}, nil
		}
		return core.CommandResult{ExitCode: exitCode, Stderr: stderr}, nil
	}
}

// Stream scripts one streaming command: Lines are produced, then the stream
// either ends with ExitCode or, if Hold is set, stays open until closed.
type Stream struct {
	Lines    []string
	ExitCode int
	Hold     bool
}

func (st *Stream) open(host, cmd string) *openStream {
	pr, pw := io.Pipe()
	o := &openStream{pr: pr, host: host, cmd: cmd, exit: st.ExitCode, done: make(chan struct{})}
	go func() {
		for _, l := range st.Lines {
			if _, err := io.WriteString(pw, l+"\n"); err != nil {
				return
			}
		}
		if st.Hold {
			<-o.done
			pw.CloseWithError(io.ErrClosedPipe)
			return
		}
		pw.Close()
	}()
	return o
}

type openStream struct {
	pr   *io.PipeReader
	host string
	cmd  string
	exit int
	once sync.Once
	done chan struct{}
}

func (o *openStream) Read(p []byte) (int, error) { return o.pr.Read(p) }

func (o *openStream) Wait() error {
	if o.exit != 0 {
		return core.CommandFailure(o.host, core.CommandResult{Command: o.cmd, ExitCode: o.exit})
	}
	return nil
}

func (o *openStream) Close() error {
	o.once.Do(func() {
		close(o.done)
		o.pr.Close()
	})
	return nil
}
