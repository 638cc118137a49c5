package daemon

import (
	"context"
	"errors"

	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/tail"
)

// Outcome is how one run of a line source ended.
type Outcome struct {
	Spec core.HostSpec
	// Cancelled is set when the run ended because ctx was cancelled. It is
	// never reported.
	Cancelled bool
	// Err and Kind are set for failures.
	Err  error
	Kind core.FailureKind
}

// runSource runs src to completion and classifies the result.
func runSource(ctx context.Context, src *tail.Source) Outcome {
	err := src.Run(ctx)
	out := Outcome{Spec: src.Spec()}
	var ce *core.Error
	switch {
	case err == nil:
	case errors.As(err, &ce) && !errors.Is(err, context.Canceled):
		// A failure that lands during shutdown is still a failure.
		out.Err = err
		out.Kind = ce.Kind
	case ctx.Err() != nil:
		out.Cancelled = true
	default:
		out.Err = err
		out.Kind = core.KindOf(err)
	}
	return out
}
