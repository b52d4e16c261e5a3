// Package monitor is a terminal view of live stages and the signal and log
// feeds of a running stage core.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/TechDevGroup/obs-impl/internal/keys"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/pubsub"
	"github.com/TechDevGroup/obs-impl/internal/signal"
	"github.com/TechDevGroup/obs-impl/internal/stage"
)

const (
	maxFeedLines    = 500
	refreshInterval = time.Second
	tableMinHeight  = 3
)

// Pane selects what the lower viewport shows.
type Pane int

const (
	PaneSignals Pane = iota
	PaneLogs
)

func (p Pane) String() string {
	if p == PaneLogs {
		return "Logs"
	}
	return "Signals"
}

// Row is one stage in the table.
type Row struct {
	Name    string
	Flags   string
	Private bool
	Main    bool
	Outputs int
	Active  int
	Refs    int64
	Video   string
}

// Snapshot reads a row per live stage, sorted by name.
func Snapshot(core *stage.Core) []Row {
	var rows []Row
	core.EnumStages(func(s *stage.Stage) bool {
		row := Row{
			Name:    s.Name(),
			Flags:   s.Flags().String(),
			Private: s.Private(),
			Main:    s.IsMain(),
			Outputs: s.OutputCount(),
			// The enumeration pin is not the caller's reference.
			Refs:  s.Refs() - 1,
			Video: "none",
		}
		for _, o := range s.Outputs() {
			if o.Active() {
				row.Active++
			}
		}
		if vi, ok := s.VideoInfo(); ok {
			row.Video = vi.String()
		}
		rows = append(rows, row)
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the monitor state.
type Model struct {
	core    *stage.Core
	signals *pubsub.ContinuousListener[signal.Emission]
	logs    *log.LogListener

	width  int
	height int

	rows      []Row
	pane      Pane
	feed      []string
	logLines  []string
	follow    bool
	viewport  viewport.Model
	help      help.Model
	lastEvent time.Time
}

// New returns a monitor over core. Either listener may be nil.
func New(core *stage.Core, signals *pubsub.ContinuousListener[signal.Emission], logs *log.LogListener) Model {
	return Model{
		core:     core,
		signals:  signals,
		logs:     logs,
		rows:     Snapshot(core),
		follow:   true,
		viewport: viewport.New(0, 0),
		help:     help.New(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if m.signals != nil {
		cmds = append(cmds, m.signals.Listen())
	}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tickMsg:
		m.rows = Snapshot(m.core)
		m.resize()
		return m, tick()

	case pubsub.Event[signal.Emission]:
		m.feed = appendCapped(m.feed, formatEmission(msg))
		m.lastEvent = msg.Timestamp
		m.rows = Snapshot(m.core)
		m.resize()
		var next tea.Cmd
		if m.signals != nil {
			next = m.signals.Listen()
		}
		return m, next

	case log.LogEvent:
		m.logLines = appendCapped(m.logLines, strings.TrimRight(msg.Payload, "\n"))
		m.refreshViewport()
		var next tea.Cmd
		if m.logs != nil {
			next = m.logs.Listen()
		}
		return m, next

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Monitor.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Monitor.SwitchPane):
			m.pane = (m.pane + 1) % 2
			m.follow = true
			m.refreshViewport()
		case key.Matches(msg, keys.Monitor.Down):
			m.viewport.ScrollDown(1)
			m.follow = m.viewport.AtBottom()
		case key.Matches(msg, keys.Monitor.Up):
			m.viewport.ScrollUp(1)
			m.follow = false
		case key.Matches(msg, keys.Monitor.Top):
			m.viewport.GotoTop()
			m.follow = false
		case key.Matches(msg, keys.Monitor.Bottom):
			m.viewport.GotoBottom()
			m.follow = true
		case key.Matches(msg, keys.Monitor.Clear):
			if m.pane == PaneLogs {
				m.logLines = nil
			} else {
				m.feed = nil
			}
			m.refreshViewport()
		case key.Matches(msg, keys.Monitor.Refresh):
			m.rows = Snapshot(m.core)
			m.resize()
		case key.Matches(msg, keys.Monitor.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()
		}
		return m, nil
	}
	return m, nil
}

// Pane returns the pane shown in the viewport.
func (m Model) Pane() Pane { return m.pane }

// Rows returns the last stage snapshot.
func (m Model) Rows() []Row { return m.rows }

// Feed returns the rendered signal lines.
func (m Model) Feed() []string { return m.feed }

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxFeedLines {
		lines = lines[len(lines)-maxFeedLines:]
	}
	return lines
}

func formatEmission(ev pubsub.Event[signal.Emission]) string {
	names := make([]string, 0, len(ev.Payload.Params))
	for k := range ev.Payload.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+ev.Payload.Params[k])
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s %-14s %-14s %s",
		ts.Format("15:04:05.000"), ev.Payload.Source, ev.Payload.Signal, strings.Join(parts, " "))
}

// tableHeight is the number of lines the stage table takes.
func (m Model) tableHeight() int {
	return max(len(m.rows), 1) + 2
}

func (m *Model) resize() {
	// title, tabs, two dividers, then the help footer
	chrome := 4 + lipgloss.Height(m.help.View(keys.Monitor))
	m.help.Width = m.width
	vh := m.height - chrome - max(m.tableHeight(), tableMinHeight)
	m.viewport.Width = max(m.width, 0)
	m.viewport.Height = max(vh, 1)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	lines := m.feed
	if m.pane == PaneLogs {
		lines = m.logLines
	}
	if len(lines) == 0 {
		m.viewport.SetContent(mutedStyle.Render("  (nothing yet)"))
		return
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderTable() string {
	header := fmt.Sprintf("  %-20s %-26s %-8s %-8s %-5s %s", "STAGE", "FLAGS", "OUTPUTS", "ACTIVE", "REFS", "VIDEO")
	var b strings.Builder
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	if len(m.rows) == 0 {
		b.WriteString(mutedStyle.Render("  no stages"))
		return b.String()
	}
	for i, r := range m.rows {
		flags := r.Flags
		if r.Private {
			flags += " (private)"
		}
		line := fmt.Sprintf("  %-20s %-26s %-8d %-8d %-5d %s",
			truncate(r.Name, 20), truncate(flags, 26), r.Outputs, r.Active, r.Refs, r.Video)
		switch {
		case r.Main:
			line = mainStyle.Render(line)
		case r.Active > 0:
			line = activeStyle.Render(line)
		default:
			line = cellStyle.Render(line)
		}
		b.WriteString(line)
		if i < len(m.rows)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (m Model) renderTabs() string {
	var tabs []string
	for _, p := range []Pane{PaneSignals, PaneLogs} {
		style := tabStyle
		if p == m.pane {
			style = tabOnStyle
		}
		tabs = append(tabs, style.Render(p.String()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// View implements tea.Model.
func (m Model) View() string {
	width := max(m.width, 40)
	divider := dividerStyle.Render(strings.Repeat("─", width))

	title := titleStyle.Render(fmt.Sprintf("stagectl monitor  %d stages", len(m.rows)))
	if !m.lastEvent.IsZero() {
		title += mutedStyle.Render("  last signal " + m.lastEvent.Format("15:04:05"))
	}
	footer := " " + m.help.View(keys.Monitor)

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.renderTable(),
		divider,
		m.renderTabs(),
		m.viewport.View(),
		divider,
		footer,
	)
}
