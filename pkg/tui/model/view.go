package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/a12rta/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRestart = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	hostStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	listH := max(min(len(a.sources)+2, a.height/3), 5)
	logPaneH := a.height - listH - statusBarH - 4
	listW := a.width*3/5 - 2
	detailW := a.width - listW - 4

	// Sources pane
	list := a.renderList(listW, listH)
	listPane := a.paneBox(PaneList, a.listTitle(), list, listW, listH)

	// Detail pane
	detail := a.renderDetail()
	detailPane := a.paneBox(PaneDetail, " Detail ", detail, detailW, listH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	// Log pane
	logs := a.renderLogs(a.width-4, logPaneH)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, a.width-4, logPaneH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) listTitle() string {
	if a.runID == "" {
		return " Sources "
	}
	return fmt.Sprintf(" Sources (%d lines) ", a.consumed)
}

func (a App) renderList(w, h int) string {
	if len(a.sources) == 0 {
		return dimStyle.Render("no sources")
	}

	var b strings.Builder
	maxVisible := max(h-2, 1)
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(a.sources) && i-start < maxVisible; i++ {
		src := a.sources[i]
		indicator := statusIndicator(src.Status)
		name := truncate(src.ID, w-6)
		line := fmt.Sprintf(" %s %-*s", indicator, w-6, name)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderDetail() string {
	src := a.selectedSource()
	if src == nil {
		return dimStyle.Render("select a source")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Host:     %s\n", src.Host)
	fmt.Fprintf(&b, "File:     %s\n", src.File)
	fmt.Fprintf(&b, "Mode:     %s\n", src.Mode)
	fmt.Fprintf(&b, "Status:   %s\n", colorStatus(src.Status))
	fmt.Fprintf(&b, "Lines:    %d\n", src.Lines)
	if !src.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Uptime:   %s\n", formatDuration(time.Since(src.StartedAt)))
	}
	if src.Restarts > 0 {
		fmt.Fprintf(&b, "Restarts: %d\n", src.Restarts)
	}
	if src.LastError != "" {
		fmt.Fprintf(&b, "Error:    %s\n", statusFailed.Render(src.LastError))
	}
	return b.String()
}

func (a App) renderLogs(w, h int) string {
	lines := a.visibleLines()
	if len(lines) == 0 {
		return dimStyle.Render("no log output")
	}

	// Each line takes a header row and a text row.
	rows := max((h-1)/2, 1)
	start := max(len(lines)-rows, 0)

	var b strings.Builder
	for _, l := range lines[start:] {
		b.WriteString(hostStyle.Render(truncate(l.Host+":"+l.File, w)) + " " +
			dimStyle.Render(l.ObservedAt.Format("15:04:05")) + "\n")
		b.WriteString(truncate(l.Text, w) + "\n")
	}
	return b.String()
}

func (a App) logTitle() string {
	title := " Logs "
	if a.followOnly {
		if src := a.selectedSource(); src != nil {
			title = " Logs: " + src.ID + " "
		}
	}
	if q := a.search.Value(); q != "" {
		title += dimStyle.Render("/"+q) + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav tab:pane /:filter f:selected only space:pause c:clear S:stop q:quit"
	switch a.mode {
	case ModeSearch:
		right = "enter:apply esc:cancel"
		left = a.search.View()
	case ModeConfirmShutdown:
		right = "y:stop n:cancel"
	}

	gap := a.width - lipgloss.Width(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func statusIndicator(status core.Status) string {
	switch status {
	case core.StatusPolling:
		return statusRunning.Render("●")
	case core.StatusConnecting, core.StatusVerifying:
		return statusRestart.Render("◌")
	case core.StatusStopped:
		return statusStopped.Render("○")
	case core.StatusFailed:
		return statusFailed.Render("✖")
	case core.StatusRestarting:
		return statusRestart.Render("↻")
	default:
		return dimStyle.Render("?")
	}
}

func colorStatus(status core.Status) string {
	s := string(status)
	switch status {
	case core.StatusPolling:
		return statusRunning.Render(s)
	case core.StatusStopped:
		return statusStopped.Render(s)
	case core.StatusFailed:
		return statusFailed.Render(s)
	case core.StatusRestarting, core.StatusConnecting, core.StatusVerifying:
		return statusRestart.Render(s)
	default:
		return dimStyle.Render(s)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	sec := int64(d.Seconds())
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%dm%ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%dh%dm", sec/3600, (sec%3600)/60)
}
