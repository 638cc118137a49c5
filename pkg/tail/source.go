package tail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modoterra/a12rta/pkg/core"
)

// verifyCommand is run once after connecting to prove the session works.
const verifyCommand = `echo "test"`

// Emitter receives the lines a Source admits. queue.Queue implements it.
type Emitter interface {
	Enqueue(ctx context.Context, line core.LogLine) error
}

// Source observes one remote log file and emits each newly seen line once.
// A Source is single-use: Run may be called only once.
type Source struct {
	spec      core.HostSpec
	transport core.Transport
	out       Emitter
	window    *Window
	logger    *slog.Logger
	now       func() time.Time
	onStatus  func(core.Status)
}

// Option configures a Source.
type Option func(*Source)

// WithClock overrides the timestamp source for emitted lines.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithStatusHook is called on every state transition.
func WithStatusHook(fn func(core.Status)) Option {
	return func(s *Source) { s.onStatus = fn }
}

// NewSource creates a line source for spec that writes to out.
func NewSource(spec core.HostSpec, transport core.Transport, out Emitter, logger *slog.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		spec:      spec,
		transport: transport,
		out:       out,
		window:    NewWindow(spec.BufferLines),
		logger:    logger.With("host", spec.Name, "file", spec.LogFile),
		now:       time.Now,
		onStatus:  func(core.Status) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spec returns the host configuration this source was built from.
func (s *Source) Spec() core.HostSpec { return s.spec }

// Run connects, verifies the session, and polls until ctx is cancelled or a
// failure occurs. Cancellation is returned as ctx.Err(); failures are *core.Error.
// The remote session is closed before Run returns.
func (s *Source) Run(ctx context.Context) error {
	s.onStatus(core.StatusConnecting)
	s.logger.Info("making connection", "addr", s.spec.Address(), "timeout", s.spec.LoginTimeout)

	sess, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	s.onStatus(core.StatusVerifying)
	if _, err := s.run(ctx, sess, verifyCommand); err != nil {
		return err
	}
	s.logger.Info("connected", "mode", s.spec.Mode)

	s.onStatus(core.StatusPolling)
	if s.spec.Mode == core.ModeStream {
		return s.follow(ctx, sess)
	}
	return s.poll(ctx, sess)
}

type dialResult struct {
	sess core.Session
	err  error
}

// connect dials under the login timeout. The dial runs in its own goroutine so
// a transport that ignores its context still cannot hold the source past the
// timeout; a session that arrives late is closed.
func (s *Source) connect(ctx context.Context) (core.Session, error) {
	dctx, cancel := withTimeout(ctx, s.spec.LoginTimeout)
	defer cancel()

	ch := make(chan dialResult, 1)
	go func() {
		sess, err := s.transport.Dial(dctx, s.spec)
		ch <- dialResult{sess, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil {
			return r.sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, core.ConnectionTimeout(s.spec.Host, s.spec.LoginTimeout, r.err)
		}
		var ce *core.Error
		if errors.As(r.err, &ce) {
			return nil, r.err
		}
		return nil, core.TransportFailure(s.spec.Host, "connect", r.err)
	case <-dctx.Done():
		go func() {
			if r := <-ch; r.sess != nil {
				r.sess.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ConnectionTimeout(s.spec.Host, s.spec.LoginTimeout, dctx.Err())
	}
}

// run executes a one-shot command under the command timeout.
func (s *Source) run(ctx context.Context, sess core.Session, cmd string) (core.CommandResult, error) {
	cctx, cancel := withTimeout(ctx, s.spec.CommandTimeout)
	defer cancel()

	res, err := sess.Run(cctx, cmd)
	if err == nil {
		return res, nil
	}
	var ce *core.Error
	tagged := errors.As(err, &ce)
	if tagged && !errors.Is(err, context.Canceled) {
		return res, err
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if tagged {
		return res, err
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%q timed out after %s: %w", cmd, s.spec.CommandTimeout, err)
	}
	return res, core.TransportFailure(s.spec.Host, "run", err)
}

// admit passes text through the window and enqueues it if it is new.
func (s *Source) admit(ctx context.Context, text string) error {
	if !s.window.Admit(text) {
		return nil
	}
	return s.out.Enqueue(ctx, core.LogLine{
		Host:       s.spec.Name,
		File:       s.spec.LogFile,
		Text:       text,
		ObservedAt: s.now(),
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
