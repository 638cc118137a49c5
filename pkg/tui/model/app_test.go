package model

import (
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/a12rta/pkg/core"
	"github.com/modoterra/a12rta/pkg/transport/uds"
)

func update(t *testing.T, a App, msg tea.Msg) App {
	t.Helper()
	m, _ := a.Update(msg)
	return m.(App)
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func twoSources() sourcesMsg {
	return sourcesMsg{
		RunID:    "run-1",
		Consumed: 3,
		Sources: []core.SourceInfo{
			{ID: "web1:/var/log/syslog", Host: "web1", File: "/var/log/syslog", Status: core.StatusPolling},
			{ID: "db1:/var/log/pg.log", Host: "db1", File: "/var/log/pg.log", Status: core.StatusFailed, LastError: "timeout"},
		},
	}
}

func TestSourcesAndSelection(t *testing.T) {
	a := update(t, New("/tmp/x.sock"), twoSources())
	if len(a.sources) != 2 || a.runID != "run-1" {
		t.Fatalf("sources not applied: %+v", a.sources)
	}

	a = update(t, a, key("j"))
	a = update(t, a, key("j"))
	if a.selectedIdx != 1 {
		t.Errorf("selection must stop at the last source, got %d", a.selectedIdx)
	}
	a = update(t, a, key("k"))
	if a.selectedIdx != 0 {
		t.Errorf("got %d", a.selectedIdx)
	}

	a = update(t, a, sourcesMsg{Sources: twoSources().Sources[:1]})
	if a.selectedIdx != 0 {
		t.Errorf("selection must be clamped, got %d", a.selectedIdx)
	}
}

func TestSourceChangedMerges(t *testing.T) {
	a := update(t, New(""), twoSources())
	a = update(t, a, sourceChangedMsg{ID: "db1:/var/log/pg.log", Host: "db1", Status: core.StatusRestarting})
	if a.sources[1].Status != core.StatusRestarting {
		t.Errorf("got %s", a.sources[1].Status)
	}
	a = update(t, a, sourceChangedMsg{ID: "new:/x", Host: "new", Status: core.StatusConnecting})
	if len(a.sources) != 3 {
		t.Errorf("unknown source must be appended, got %d", len(a.sources))
	}
}

func TestLogLinesPauseAndCap(t *testing.T) {
	a := New("")
	a = update(t, a, logLineMsg{Host: "web1", File: "/f", Text: "one"})
	a = update(t, a, key(" "))
	a = update(t, a, logLineMsg{Host: "web1", File: "/f", Text: "dropped"})
	a = update(t, a, key(" "))
	a = update(t, a, logLineMsg{Host: "web1", File: "/f", Text: "two"})

	if len(a.logLines) != 2 || a.logLines[1].Text != "two" {
		t.Errorf("got %+v", a.logLines)
	}

	for i := 0; i < maxLogLines+10; i++ {
		a = update(t, a, logLineMsg{Text: "x"})
	}
	if len(a.logLines) != maxLogLines {
		t.Errorf("history grew to %d", len(a.logLines))
	}
}

func TestVisibleLinesFilters(t *testing.T) {
	a := update(t, New(""), twoSources())
	for _, l := range []core.LogLine{
		{Host: "web1", File: "/var/log/syslog", Text: "GET /index"},
		{Host: "db1", File: "/var/log/pg.log", Text: "checkpoint starting"},
		{Host: "web1", File: "/var/log/syslog", Text: "POST /login"},
	} {
		a = update(t, a, logLineMsg(l))
	}

	a = update(t, a, key("f"))
	if got := a.visibleLines(); len(got) != 2 {
		t.Errorf("selected-only: got %d lines", len(got))
	}

	a = update(t, a, key("/"))
	for _, r := range "post" {
		a = update(t, a, key(string(r)))
	}
	a = update(t, a, key("enter"))
	got := a.visibleLines()
	if len(got) != 1 || got[0].Text != "POST /login" {
		t.Errorf("search: got %+v", got)
	}

	a = update(t, a, key("f"))
	a = update(t, a, key("/"))
	a = update(t, a, key("esc"))
	if len(a.visibleLines()) != 3 {
		t.Errorf("filters not cleared")
	}
}

func TestShutdownConfirmation(t *testing.T) {
	a := New("")
	a = update(t, a, key("S"))
	if a.mode != ModeNormal {
		t.Error("shutdown needs a connection")
	}

	a.connected = true
	a = update(t, a, key("S"))
	if a.mode != ModeConfirmShutdown {
		t.Fatal("expected confirmation prompt")
	}
	a = update(t, a, key("n"))
	if a.mode != ModeNormal || a.statusMsg != "shutdown cancelled" {
		t.Errorf("got mode %d, status %q", a.mode, a.statusMsg)
	}
}

func TestEventMsg(t *testing.T) {
	line, _ := json.Marshal(core.LogLine{Host: "web1", Text: "hello"})
	if m, ok := eventMsg(uds.Message{Method: uds.EventLogsLine, Data: line}).(logLineMsg); !ok || m.Text != "hello" {
		t.Errorf("got %#v", m)
	}
	info, _ := json.Marshal(core.SourceInfo{ID: "a:/b", Status: core.StatusFailed})
	if m, ok := eventMsg(uds.Message{Method: uds.EventSourcesChange, Data: info}).(sourceChangedMsg); !ok || m.Status != core.StatusFailed {
		t.Errorf("got %#v", m)
	}
	if m := eventMsg(uds.Message{Method: "other"}); m != nil {
		t.Errorf("unknown event: got %#v", m)
	}
}

func TestView(t *testing.T) {
	a := update(t, New(""), tea.WindowSizeMsg{Width: 120, Height: 40})
	a = update(t, a, twoSources())
	a = update(t, a, logLineMsg{Host: "web1", File: "/var/log/syslog", Text: "hello world"})

	v := a.View()
	for _, want := range []string{"web1:/var/log/syslog", "hello world", "Status:", "q:quit"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if got := New("").View(); got != "loading..." {
		t.Errorf("got %q before the first resize", got)
	}
}

func TestDisconnected(t *testing.T) {
	a := New("")
	a.connected = true
	a = update(t, a, disconnectedMsg{})
	if a.connected || a.statusMsg != "disconnected" {
		t.Errorf("got %+v", a.statusMsg)
	}
}
