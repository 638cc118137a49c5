package daemon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/queue"
	"github.com/modoterra/a12rta/pkg/report"
	"github.com/modoterra/a12rta/pkg/sink"
	"github.com/modoterra/a12rta/pkg/tail"
)

// supervisedSource tracks one configured host/file pair across restarts.
type supervisedSource struct {
	spec      core.HostSpec
	status    core.Status
	startedAt time.Time
	restarts  int
	lastErr   string
	lines     atomic.Uint64
}

func (p *supervisedSource) info() core.SourceInfo {
	return core.SourceInfo{
		ID:        p.spec.ID(),
		Host:      p.spec.Name,
		File:      p.spec.LogFile,
		Mode:      p.spec.Mode,
		Status:    p.status,
		StartedAt: p.startedAt,
		Lines:     p.lines.Load(),
		Restarts:  p.restarts,
		LastError: p.lastErr,
	}
}

// countingEmitter forwards to the queue and counts what got through.
type countingEmitter struct {
	q *queue.Queue
	p *supervisedSource
}

func (e countingEmitter) Enqueue(ctx context.Context, line core.LogLine) error {
	if err := e.q.Enqueue(ctx, line); err != nil {
		return err
	}
	e.p.lines.Add(1)
	return nil
}

// Supervisor runs one line source per host, a single consumer, and owns
// cancellation for all of them.
type Supervisor struct {
	sources   []*supervisedSource
	transport core.Transport
	logger    *slog.Logger
	reporter  report.Reporter
	sink      sink.Sink
	queueSize int
	grace     time.Duration
	now       func() time.Time
	backoff   func(failures int) time.Duration
	onChange  func(core.SourceInfo)
	runID     string

	mu       sync.RWMutex
	cancel   context.CancelFunc
	stopping bool
	consumer *sink.Consumer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithReporter sets where per-host failures are reported.
func WithReporter(r report.Reporter) Option { return func(s *Supervisor) { s.reporter = r } }

// WithSink sets where consumed lines are rendered. Defaults to a Printer on
// io.Discard.
func WithSink(k sink.Sink) Option { return func(s *Supervisor) { s.sink = k } }

// WithQueueSize bounds the aggregation queue.
func WithQueueSize(n int) Option { return func(s *Supervisor) { s.queueSize = n } }

// WithGrace bounds the final drain of the queue.
func WithGrace(d time.Duration) Option { return func(s *Supervisor) { s.grace = d } }

// WithClock overrides the clock used for line timestamps and records.
func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// WithStatusListener is called after every source status change.
func WithStatusListener(fn func(core.SourceInfo)) Option {
	return func(s *Supervisor) { s.onChange = fn }
}

// NewSupervisor creates a supervisor for specs. Nothing runs until Run.
func NewSupervisor(specs []core.HostSpec, transport core.Transport, opts ...Option) *Supervisor {
	s := &Supervisor{
		transport: transport,
		logger:    slog.Default(),
		queueSize: queue.DefaultCapacity,
		grace:     sink.DefaultGrace,
		now:       time.Now,
		backoff:   backoff,
		onChange:  func(core.SourceInfo) {},
		runID:     uuid.NewString(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.reporter == nil {
		s.reporter = report.NewLogReporter(s.logger, nil)
	}
	if s.sink == nil {
		s.sink = sink.NewPrinter(io.Discard)
	}
	for _, spec := range specs {
		s.sources = append(s.sources, &supervisedSource{spec: spec, status: core.StatusStopped})
	}
	return s
}

// RunID identifies this run in every reported record.
func (s *Supervisor) RunID() string { return s.runID }

// Run starts every source and the consumer, and returns once all sources have
// ended and the queue has been drained. Per-host failures are reported and
// never end the run. The only error is sink.ErrGraceExpired.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	if s.stopping {
		cancel()
	}
	s.mu.Unlock()

	q := queue.New(s.queueSize)
	consumer := sink.NewConsumer(q, s.sink, s.grace, s.logger)
	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()

	cctx, stopConsumer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsumer()
	consumed := make(chan error, 1)
	go func() { consumed <- consumer.Run(cctx) }()

	s.logger.Info("supervisor started", "run_id", s.runID, "sources", len(s.sources), "queue", q.Cap())

	var wg sync.WaitGroup
	for _, p := range s.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.supervise(ctx, p, q)
		}()
	}
	wg.Wait()

	q.Close()
	stopConsumer()
	err := <-consumed
	s.logger.Info("supervisor stopped", "run_id", s.runID, "lines", consumer.Consumed(), "err", err)
	return err
}

// Shutdown cancels every source. It may be called from any goroutine, any
// number of times, before or during Run.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.stopping = true
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("shutdown requested", "run_id", s.runID)
}

// Sources returns a snapshot of every source in configuration order.
func (s *Supervisor) Sources() []core.SourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SourceInfo, len(s.sources))
	for i, p := range s.sources {
		out[i] = p.info()
	}
	return out
}

// Consumed returns how many lines have reached the sink so far.
func (s *Supervisor) Consumed() uint64 {
	s.mu.RLock()
	c := s.consumer
	s.mu.RUnlock()
	if c == nil {
		return 0
	}
	return c.Consumed()
}

func (s *Supervisor) supervise(ctx context.Context, p *supervisedSource, q *queue.Queue) {
	logger := s.logger.With("host", p.spec.Name, "file", p.spec.LogFile)
	failures := 0
	for {
		s.update(p, func() { p.startedAt = s.now() })
		src := tail.NewSource(p.spec, s.transport, countingEmitter{q: q, p: p}, s.logger,
			tail.WithClock(s.now),
			tail.WithStatusHook(func(st core.Status) { s.setStatus(p, st) }),
		)

		out := runSource(ctx, src)
		if out.Cancelled || out.Err == nil {
			s.setStatus(p, core.StatusStopped)
			return
		}

		s.reporter.Report(report.FromError(s.runID, p.spec.Name, p.spec.LogFile, out.Err, s.now()))
		s.update(p, func() {
			p.status = core.StatusFailed
			p.lastErr = out.Err.Error()
		})

		if p.spec.Restart != core.RestartOnFailure {
			return
		}

		failures++
		delay := s.backoff(failures)
		logger.Info("restarting source", "delay", delay, "attempt", failures, "kind", out.Kind)
		s.setStatus(p, core.StatusRestarting)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.setStatus(p, core.StatusStopped)
			return
		}
		s.update(p, func() { p.restarts++ })
	}
}

func (s *Supervisor) setStatus(p *supervisedSource, st core.Status) {
	s.update(p, func() { p.status = st })
}

func (s *Supervisor) update(p *supervisedSource, fn func()) {
	s.mu.Lock()
	fn()
	info := p.info()
	s.mu.Unlock()
	s.onChange(info)
}

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	d := time.Duration(1<<uint(min(failures-1, 5))) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
