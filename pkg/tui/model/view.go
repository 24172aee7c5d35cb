package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
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
	statusPaused  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	tabsH := 1
	mainH := a.height - statusBarH - tabsH - 2
	sideW := max(a.width/4, 24)
	linesW := a.width - sideW - 8

	tabs := a.renderTabs()

	lines := a.renderLines(linesW, mainH)
	linesPane := activePaneStyle.Width(linesW).Height(mainH).Render(
		titleStyle.Render(a.linesTitle()) + "\n" + lines,
	)

	side := a.renderStats(sideW)
	sidePane := paneStyle.Width(sideW).Height(mainH).Render(
		titleStyle.Render(" Sink ") + "\n" + side,
	)

	mainRow := lipgloss.JoinHorizontal(lipgloss.Top, linesPane, sidePane)
	return lipgloss.JoinVertical(lipgloss.Left, tabs, mainRow, a.renderStatusBar())
}

func (a App) renderTabs() string {
	panes := []Pane{PaneDisplay, PaneDurable, PaneSamples}
	parts := make([]string, 0, len(panes))
	for _, p := range panes {
		label := " " + p.String() + " "
		if p == a.activePane {
			parts = append(parts, selectedStyle.Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

func (a App) linesTitle() string {
	title := " " + a.activePane.String() + " "
	if a.paused {
		title += statusPaused.Render("[PAUSED]") + " "
	}
	if a.newestFirst {
		title += dimStyle.Render("[newest first]") + " "
	}
	if f := a.filter.Value(); f != "" && a.mode != ModeFilter {
		title += dimStyle.Render("[/"+f+"]") + " "
	}
	return title
}

func (a App) renderLines(w, h int) string {
	lines := a.visibleLines()
	maxVisible := max(h-2, 1)

	var b strings.Builder
	if len(lines) == 0 {
		b.WriteString(dimStyle.Render("no entries") + "\n")
	} else {
		start, end := window(len(lines), maxVisible, a.scroll, a.newestFirst)
		for i := start; i < end; i++ {
			b.WriteString(truncate(lines[i], w) + "\n")
		}
	}

	if a.mode == ModeFilter {
		b.WriteString("\n" + a.filter.View())
	}
	return b.String()
}

// window picks the slice of n lines to show. scroll counts lines away
// from the newest entry, which sits at the bottom in arrival order and
// at the top when newest-first.
func window(n, size, scroll int, newestFirst bool) (int, int) {
	if newestFirst {
		start := min(scroll, max(n-size, 0))
		return start, min(start+size, n)
	}
	end := max(n-scroll, min(size, n))
	return max(end-size, 0), end
}

func (a App) renderStats(w int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Server:  %s\n", truncate(a.server, w-9))
	fmt.Fprintf(&b, "Link:    %s\n", linkIndicator(a.connected))
	fmt.Fprintf(&b, "State:   %s\n", colorState(a.stats.State))
	fmt.Fprintf(&b, "Uptime:  %s\n", formatDuration(a.stats.UptimeSeconds))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Durable: %d\n", a.stats.Durable)
	fmt.Fprintf(&b, "Display: %d\n", a.stats.Display)
	fmt.Fprintf(&b, "Samples: %d\n", a.stats.Samples)
	fmt.Fprintf(&b, "Tailing: %d\n", a.stats.Subscribers)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Poll:    %s\n", dimStyle.Render(a.interval.String()))
	return b.String()
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "tab:pane j/k:scroll /:filter space:pause r:order c:clear q:quit"
	switch a.mode {
	case ModeFilter:
		right = "enter:apply esc:cancel"
	case ModeConfirmClear:
		right = "y:confirm any:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func linkIndicator(connected bool) string {
	if connected {
		return statusRunning.Render("● up")
	}
	return statusFailed.Render("✖ down")
}

func colorState(state string) string {
	switch state {
	case "running":
		return statusRunning.Render(state)
	case "stopping":
		return statusPaused.Render(state)
	case "":
		return statusStopped.Render("unknown")
	default:
		return dimStyle.Render(state)
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

func formatDuration(sec float64) string {
	s := int(sec)
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	if s < 3600 {
		return fmt.Sprintf("%dm%ds", s/60, s%60)
	}
	return fmt.Sprintf("%dh%dm", s/3600, (s%3600)/60)
}
