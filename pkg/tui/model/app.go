package model

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/telesink/pkg/core"
)

// Pane identifies which sequence the TUI shows.
type Pane int

const (
	PaneDisplay Pane = iota
	PaneDurable
	PaneSamples
)

func (p Pane) String() string {
	switch p {
	case PaneDisplay:
		return "Display"
	case PaneDurable:
		return "Durable"
	case PaneSamples:
		return "Samples"
	default:
		return "?"
	}
}

// Sequence returns the store sequence backing the pane.
func (p Pane) Sequence() core.Sequence {
	switch p {
	case PaneDurable:
		return core.SequenceDurable
	case PaneSamples:
		return core.SequenceSamples
	default:
		return core.SequenceDisplay
	}
}

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeFilter
	ModeConfirmClear
)

// Fetcher is the subset of the HTTP client the viewer polls.
// *httpapi.Client satisfies it.
type Fetcher interface {
	Logs(ctx context.Context) ([]string, error)
	DisplayLogs(ctx context.Context) ([]string, error)
	Data(ctx context.Context) ([]json.RawMessage, error)
	Stats(ctx context.Context) (core.Stats, error)
	Clear(ctx context.Context, seq core.Sequence) (string, error)
}

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client    Fetcher
	server    string
	interval  time.Duration
	connected bool

	// State
	lines       []string
	stats       core.Stats
	paused      bool
	newestFirst bool
	scroll      int

	// UI
	activePane Pane
	mode       Mode
	filter     textinput.Model
	width      int
	height     int

	// Error display
	statusMsg string
}

// New creates a viewer polling client every interval. server is only
// displayed.
func New(client Fetcher, server string, interval time.Duration) App {
	fi := textinput.New()
	fi.Placeholder = "filter..."
	fi.CharLimit = 64

	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return App{
		client:     client,
		server:     server,
		interval:   interval,
		filter:     fi,
		activePane: PaneDisplay,
		mode:       ModeNormal,
	}
}

// Init starts polling.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		fetchCmd(a.client, a.activePane),
		tea.SetWindowTitle("Telesink"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// linesMsg carries a fresh snapshot of one pane's sequence.
type linesMsg struct {
	pane  Pane
	lines []string
	stats core.Stats
}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// clearedMsg carries the server's acknowledgement of a clear.
type clearedMsg struct{ ack string }

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(client Fetcher, pane Pane) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var (
			lines []string
			err   error
		)
		switch pane {
		case PaneDurable:
			lines, err = client.Logs(ctx)
		case PaneSamples:
			var samples []json.RawMessage
			samples, err = client.Data(ctx)
			lines = make([]string, len(samples))
			for i, s := range samples {
				lines[i] = string(s)
			}
		default:
			lines, err = client.DisplayLogs(ctx)
		}
		if err != nil {
			return errorMsg{err}
		}

		stats, err := client.Stats(ctx)
		if err != nil {
			return errorMsg{err}
		}
		return linesMsg{pane: pane, lines: lines, stats: stats}
	}
}

func clearCmd(client Fetcher, seq core.Sequence) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ack, err := client.Clear(ctx, seq)
		if err != nil {
			return errorMsg{err}
		}
		return clearedMsg{ack: ack}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tickMsg:
		if a.paused {
			return a, tickCmd(a.interval)
		}
		return a, fetchCmd(a.client, a.activePane)

	case linesMsg:
		if !a.connected {
			a.connected = true
			a.statusMsg = "connected to " + a.server
		}
		a.stats = msg.stats
		// Drop snapshots for a pane that is no longer shown.
		if msg.pane == a.activePane && !a.paused {
			a.lines = msg.lines
		}
		return a, tickCmd(a.interval)

	case clearedMsg:
		a.statusMsg = msg.ack
		a.scroll = 0
		return a, fetchCmd(a.client, a.activePane)

	case errorMsg:
		a.connected = false
		a.statusMsg = "error: " + msg.err.Error()
		return a, tickCmd(a.interval)

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Filter mode
	if a.mode == ModeFilter {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.filter.SetValue("")
			a.filter.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.filter.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.filter, cmd = a.filter.Update(msg)
			a.scroll = 0
			return a, cmd
		}
	}

	// Clear confirmation mode
	if a.mode == ModeConfirmClear {
		a.mode = ModeNormal
		switch msg.String() {
		case "y", "Y":
			seq := a.activePane.Sequence()
			a.statusMsg = "clearing " + string(seq) + "..."
			return a, clearCmd(a.client, seq)
		default:
			a.statusMsg = "clear cancelled"
			return a, nil
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "tab":
		a.activePane = (a.activePane + 1) % 3
		a.lines = nil
		a.scroll = 0
		return a, fetchCmd(a.client, a.activePane)

	case "shift+tab":
		a.activePane = (a.activePane + 2) % 3
		a.lines = nil
		a.scroll = 0
		return a, fetchCmd(a.client, a.activePane)

	case "j", "down":
		a.scroll = max(a.scroll-1, 0)
	case "k", "up":
		a.scroll = min(a.scroll+1, max(len(a.visibleLines())-1, 0))
	case "g", "home":
		a.scroll = max(len(a.visibleLines())-1, 0)
	case "G", "end":
		a.scroll = 0

	case "/":
		a.mode = ModeFilter
		a.filter.Focus()
		return a, textinput.Blink

	case " ":
		a.paused = !a.paused
		if a.paused {
			a.statusMsg = "paused"
		} else {
			a.statusMsg = "resumed"
		}

	case "r":
		a.newestFirst = !a.newestFirst
		a.scroll = 0

	case "c":
		a.mode = ModeConfirmClear
		a.statusMsg = "Clear " + a.activePane.String() + "? (y/n)"
	}

	return a, nil
}

// visibleLines applies the filter and ordering to the current snapshot.
func (a App) visibleLines() []string {
	q := strings.ToLower(a.filter.Value())
	out := make([]string, 0, len(a.lines))
	for _, l := range a.lines {
		if q == "" || strings.Contains(strings.ToLower(l), q) {
			out = append(out, l)
		}
	}
	if a.newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
