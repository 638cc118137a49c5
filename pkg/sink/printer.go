package sink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/modoterra/a12rta/pkg/core"
)

// TimeLayout is the timestamp layout of each printed block.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Separator closes every printed block.
const Separator = "-----"

// Printer writes one block per line:
//
//	@2024-05-01 12:00:00.000000 web1:/var/log/syslog:
//	the line text
//	-----
//
// The timestamp is taken when the block is rendered. Headers are colored only
// when the writer is a terminal.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	now    func() time.Time
	styled bool
	header lipgloss.Style
	sep    lipgloss.Style
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithPrinterClock overrides the render clock.
func WithPrinterClock(now func() time.Time) PrinterOption {
	return func(p *Printer) { p.now = now }
}

// WithColor forces styling on or off regardless of the writer.
func WithColor(on bool) PrinterOption {
	return func(p *Printer) { p.styled = on }
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, opts ...PrinterOption) *Printer {
	r := lipgloss.NewRenderer(w)
	p := &Printer{
		w:      w,
		now:    time.Now,
		styled: isTerminal(w),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		sep:    r.NewStyle().Foreground(lipgloss.Color("241")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Write renders line. Blocks from concurrent callers never interleave.
func (p *Printer) Write(line core.LogLine) error {
	header := fmt.Sprintf("@%s %s:%s:", p.now().Format(TimeLayout), line.Host, line.File)
	sep := Separator
	if p.styled {
		header = p.header.Render(header)
		sep = p.sep.Render(sep)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s\n%s\n%s\n", header, line.Text, sep)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
