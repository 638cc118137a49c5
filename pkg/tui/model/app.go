package model

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/transport/uds"
)

// maxLogLines bounds the log pane history.
const maxLogLines = 1000

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneDetail
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeConfirmShutdown
)

// App is the root Bubble Tea model of `a12rta watch`.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan tea.Msg

	// State
	runID       string
	consumed    uint64
	sources     []core.SourceInfo
	selectedIdx int
	logLines    []core.LogLine
	logPaused   bool
	followOnly  bool

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "filter lines..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		events:     make(chan tea.Msg, 256),
		search:     si,
		activePane: PaneList,
		mode:       ModeNormal,
	}
}

// Init connects to the control socket.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("a12rta"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// connectedMsg indicates a successful connection.
type connectedMsg struct{ client *uds.Client }

// disconnectedMsg is sent when the tailer goes away.
type disconnectedMsg struct{}

// sourcesMsg carries a full source listing.
type sourcesMsg uds.ListSourcesResponse

// sourceChangedMsg carries one source status change.
type sourceChangedMsg core.SourceInfo

// logLineMsg carries a consumed log line.
type logLineMsg core.LogLine

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// shutdownMsg reports that the tailer accepted a shutdown request.
type shutdownMsg struct{}

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitEvent delivers the next pushed event or disconnection.
func waitEvent(events <-chan tea.Msg, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-events:
			return m
		case <-done:
			return disconnectedMsg{}
		}
	}
}

func fetchSourcesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var resp uds.ListSourcesResponse
		if err := client.Call(ctx, uds.MethodListSources, nil, &resp); err != nil {
			return errorMsg{err}
		}
		return sourcesMsg(resp)
	}
}

func shutdownCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var resp uds.ShutdownResponse
		if err := client.Call(ctx, uds.MethodShutdown, nil, &resp); err != nil {
			return errorMsg{err}
		}
		return shutdownMsg{}
	}
}

// eventMsg converts a pushed event into a model message. Unknown events map
// to nil.
func eventMsg(m uds.Message) tea.Msg {
	switch m.Method {
	case uds.EventLogsLine:
		var l core.LogLine
		if m.UnmarshalData(&l) == nil {
			return logLineMsg(l)
		}
	case uds.EventSourcesChange:
		var info core.SourceInfo
		if m.UnmarshalData(&info) == nil {
			return sourceChangedMsg(info)
		}
	}
	return nil
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected to " + a.socketPath

		events := a.events
		a.client.OnEvent(func(m uds.Message) {
			em := eventMsg(m)
			if em == nil {
				return
			}
			select {
			case events <- em:
			default:
			}
		})

		return a, tea.Batch(tickCmd(), fetchSourcesCmd(a.client), waitEvent(a.events, a.client.Done()))

	case disconnectedMsg:
		a.connected = false
		a.statusMsg = "disconnected"
		return a, nil

	case tickMsg:
		if a.client != nil && a.connected {
			return a, tea.Batch(tickCmd(), fetchSourcesCmd(a.client))
		}
		return a, nil

	case sourcesMsg:
		a.runID = msg.RunID
		a.consumed = msg.Consumed
		a.sources = msg.Sources
		if a.selectedIdx >= len(a.sources) {
			a.selectedIdx = max(0, len(a.sources)-1)
		}
		return a, nil

	case sourceChangedMsg:
		a.applySource(core.SourceInfo(msg))
		return a, a.nextEvent()

	case logLineMsg:
		if !a.logPaused {
			a.logLines = append(a.logLines, core.LogLine(msg))
			if len(a.logLines) > maxLogLines {
				a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
			}
		}
		return a, a.nextEvent()

	case shutdownMsg:
		a.statusMsg = "shutdown requested"
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) nextEvent() tea.Cmd {
	if a.client == nil {
		return nil
	}
	return waitEvent(a.events, a.client.Done())
}

// applySource merges a status change into the listing.
func (a *App) applySource(info core.SourceInfo) {
	for i := range a.sources {
		if a.sources[i].ID == info.ID {
			a.sources[i] = info
			return
		}
	}
	a.sources = append(a.sources, info)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	if a.mode == ModeConfirmShutdown {
		a.mode = ModeNormal
		switch msg.String() {
		case "y", "Y":
			if a.client == nil || !a.connected {
				a.statusMsg = "not connected"
				return a, nil
			}
			a.statusMsg = "stopping..."
			return a, shutdownCmd(a.client)
		default:
			a.statusMsg = "shutdown cancelled"
			return a, nil
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneList && len(a.sources) > 0 {
			a.selectedIdx = min(a.selectedIdx+1, len(a.sources)-1)
		}
	case "k", "up":
		if a.activePane == PaneList && a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "l":
		a.activePane = PaneLogs

	case " ":
		a.logPaused = !a.logPaused

	case "f":
		a.followOnly = !a.followOnly

	case "c":
		a.logLines = nil

	case "S":
		if a.connected {
			a.mode = ModeConfirmShutdown
			a.statusMsg = "Stop the tailer? (y/n)"
		}
	}

	return a, nil
}

// visibleLines applies the source filter and the search text.
func (a App) visibleLines() []core.LogLine {
	q := strings.ToLower(a.search.Value())
	sel := a.selectedSource()
	if q == "" && (!a.followOnly || sel == nil) {
		return a.logLines
	}
	var out []core.LogLine
	for _, l := range a.logLines {
		if a.followOnly && sel != nil && core.SourceID(l.Host, l.File) != sel.ID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(l.Text), q) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (a App) selectedSource() *core.SourceInfo {
	if a.selectedIdx < len(a.sources) {
		return &a.sources[a.selectedIdx]
	}
	return nil
}
