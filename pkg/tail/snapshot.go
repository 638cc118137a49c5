package tail

import (
	"context"
	"slices"
	"strings"

	"github.com/modoterra/a12rta/pkg/core"
)

// poll runs the tail command every Delay and emits the lines that were not in
// the previous batch, filtered through the window.
func (s *Source) poll(ctx context.Context, sess core.Session) error {
	cmd := s.spec.TailCommand()
	var prev []string

	for {
		res, err := s.run(ctx, sess, cmd)
		if err != nil {
			return err
		}

		batch := splitLines(res.Stdout)
		for _, text := range newLines(prev, batch) {
			if err := s.admit(ctx, text); err != nil {
				return err
			}
		}
		prev = batch

		if err := sleep(ctx, s.spec.Delay); err != nil {
			return err
		}
	}
}

// newLines returns the lines of batch absent from prev, in batch order.
func newLines(prev, batch []string) []string {
	if slices.Equal(prev, batch) {
		return nil
	}

	old := make(map[string]struct{}, len(prev))
	for _, line := range prev {
		old[line] = struct{}{}
	}

	var added []string
	for _, line := range batch {
		if _, existed := old[line]; !existed {
			added = append(added, line)
		}
	}
	return added
}

// splitLines splits command output into lines, dropping the trailing newline
// and any carriage returns.
func splitLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
