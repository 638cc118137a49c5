// Package sink renders aggregated log lines and drains the queue into them.
package sink

import (
	"errors"

	"github.com/modoterra/a12rta/pkg/core"
)

// Sink receives every consumed line, in queue order.
type Sink interface {
	Write(line core.LogLine) error
}

// Func adapts a plain function to a Sink.
type Func func(core.LogLine) error

func (f Func) Write(line core.LogLine) error { return f(line) }

// Multi fans a line out to several sinks. Every sink sees the line even if an
// earlier one fails; the errors are joined.
type Multi []Sink

func (m Multi) Write(line core.LogLine) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
