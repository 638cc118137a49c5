package tail

import (
	"bufio"
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/modoterra/a12rta/pkg/core"
)

// minReconnectGap bounds how often a stream is reopened when Delay is tiny.
const minReconnectGap = 100 * time.Millisecond

// follow keeps a `tail -F` stream open, reopening it when it ends cleanly or
// when ReconnectInterval elapses. Reopens are paced by a token bucket holding
// a single token per Delay.
func (s *Source) follow(ctx context.Context, sess core.Session) error {
	gap := max(s.spec.Delay, minReconnectGap)
	limiter := rate.NewLimiter(rate.Every(gap), 1)

	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if attempt > 0 {
			s.logger.Debug("reopening stream", "attempt", attempt)
		}
		if err := s.followOnce(ctx, sess); err != nil {
			return err
		}
	}
}

// followOnce reads one stream to its end. It returns nil when the stream should
// be reopened.
func (s *Source) followOnce(ctx context.Context, sess core.Session) error {
	sctx, cancel := withTimeout(ctx, s.spec.ReconnectInterval)
	defer cancel()

	stream, err := sess.Stream(sctx, s.spec.FollowCommand())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ce *core.Error
		if errors.As(err, &ce) {
			return err
		}
		return core.TransportFailure(s.spec.Host, "stream", err)
	}
	defer stream.Close()

	// Unblocks the scanner on cancellation or when the interval elapses.
	stop := context.AfterFunc(sctx, func() { stream.Close() })
	defer stop()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := s.admit(ctx, scanner.Text()); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if sctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return core.TransportFailure(s.spec.Host, "stream", err)
	}
	if err := stream.Wait(); err != nil {
		var ce *core.Error
		if errors.As(err, &ce) {
			return err
		}
		return core.TransportFailure(s.spec.Host, "stream", err)
	}
	return nil
}
