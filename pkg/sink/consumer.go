package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/queue"
)

// DefaultGrace bounds the drain after cancellation.
const DefaultGrace = 5 * time.Second

// ErrGraceExpired is returned by Run when lines were still queued when the
// grace period ran out.
var ErrGraceExpired = errors.New("grace period expired before the queue drained")

// Consumer is the single reader of the queue.
type Consumer struct {
	q        *queue.Queue
	sink     Sink
	grace    time.Duration
	logger   *slog.Logger
	consumed atomic.Uint64
}

// NewConsumer creates a consumer that renders q into s.
func NewConsumer(q *queue.Queue, s Sink, grace time.Duration, logger *slog.Logger) *Consumer {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Consumer{q: q, sink: s, grace: grace, logger: logger}
}

// Consumed returns how many lines were handed to the sink.
func (c *Consumer) Consumed() uint64 { return c.consumed.Load() }

// Run writes lines until the queue is closed and empty. Once ctx is done it
// drains what is already queued, for at most the grace period.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case line, ok := <-c.q.C():
			if !ok {
				return nil
			}
			c.write(line)
		case <-ctx.Done():
			return c.drain()
		}
	}
}

func (c *Consumer) drain() error {
	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if n := c.q.Len(); n > 0 {
				c.logger.Warn("drain abandoned", "remaining", n, "grace", c.grace)
				return ErrGraceExpired
			}
			return nil
		default:
		}
		line, ok := c.q.TryDequeue()
		if !ok {
			return nil
		}
		c.write(line)
	}
}

func (c *Consumer) write(line core.LogLine) {
	c.consumed.Add(1)
	if err := c.sink.Write(line); err != nil {
		c.logger.Warn("sink write", "host", line.Host, "file", line.File, "err", err)
	}
}
