// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/heliograph/internal/logging"
	"github.com/Thermoquad/heliograph/internal/session"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// monitorRefresh is how often the TUI re-reads the log
const monitorRefresh = 250 * time.Millisecond

// TUI model
type model struct {
	manager   *session.Manager
	selection []varlog.Selection
	events    *logging.Ring
	connInfo  string
	signals   table.Model
	lastErr   error
	started   time.Time
	width     int
	height    int
	quitting  bool
}

// Messages
type tickMsg time.Time
type actionMsg struct {
	action string
	err    error
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func initialModel(m *session.Manager, selection []varlog.Selection, events *logging.Ring, connInfo string) model {
	columns := []table.Column{
		{Title: "Signal", Width: 32},
		{Title: "Frame", Width: 5},
		{Title: "Type", Width: 9},
		{Title: "Value", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(len(selection)+1),
	)

	return model{
		manager:   m,
		selection: selection,
		events:    events,
		connInfo:  connInfo,
		signals:   t,
		width:     80,
		height:    24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// startCmd runs the blocking configure-then-go call off the UI goroutine
func (m model) startCmd() tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: "start", err: m.manager.Start(m.selection)}
	}
}

func (m model) stopCmd() tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: "stop", err: m.manager.Stop()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if !m.manager.IsLogRunning() {
				return m, m.startCmd()
			}
		case "x":
			if m.manager.IsLogRunning() {
				return m, m.stopCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case actionMsg:
		m.lastErr = msg.err
		if msg.action == "start" && msg.err == nil {
			m.started = time.Now()
		}

	case tickMsg:
		m.signals.SetRows(m.rows())
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.signals, cmd = m.signals.Update(msg)
	return m, cmd
}

// rows builds the signal table from the latest log row
func (m model) rows() []table.Row {
	_, latest, ok := m.manager.Log().Latest()

	sel := append([]varlog.Selection(nil), m.selection...)
	sort.SliceStable(sel, func(i, j int) bool {
		return sel[i].Descriptor.Frame < sel[j].Descriptor.Frame
	})

	rows := make([]table.Row, 0, len(sel))
	for _, s := range sel {
		value := "-"
		if ok {
			if v, found := latest[s.Name]; found {
				value = varlog.FormatValue(varlog.Value{Type: s.Descriptor.Type, Value: v})
			}
		}
		rows = append(rows, table.Row{
			s.Name,
			fmt.Sprintf("%d", s.Descriptor.Frame),
			s.Descriptor.Type.String(),
			value,
		})
	}
	return rows
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("HELIOGRAPH - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | s: start  x: stop  q: quit", m.connInfo)))
	s.WriteString("\n\n")

	// Session status
	running := m.manager.IsLogRunning()
	switch {
	case running:
		uptime := uint64(time.Since(m.started).Milliseconds())
		s.WriteString(statsValueStyle.Render("● Logging"))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" %s for %s", m.manager.SessionID(), formatUptime(uptime))))
	case m.manager.Log().Path() != "":
		s.WriteString(warningStyle.Render("■ Stopped"))
		s.WriteString(headerStyle.Render(" wrote " + m.manager.Log().Path()))
	default:
		s.WriteString(warningStyle.Render("■ Idle"))
	}
	if m.manager.IsResolving() {
		s.WriteString(headerStyle.Render("  (resolving symbols)"))
	}
	if m.lastErr != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("✗ " + m.lastErr.Error()))
	}
	s.WriteString("\n\n")

	// Statistics
	snap := m.manager.Stats().Snapshot()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Rows:"), statsValueStyle.Render(fmt.Sprintf("%d", m.manager.Log().Rows())),
		statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.Samples)),
		statsLabelStyle.Render("Desyncs:"), func() string {
			if snap.Desyncs > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", snap.Desyncs))
			}
			return statsValueStyle.Render("0")
		}(),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Byte Rate:"), statsValueStyle.Render(fmt.Sprintf("%.0f B/s", snap.ByteRate)),
		statsLabelStyle.Render("Sample Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f /s", snap.SampleRate)),
		statsLabelStyle.Render("Loop:"), statsValueStyle.Render(snap.LoopPeriod.String()),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Signals
	s.WriteString(statsLabelStyle.Render("Signals:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.signals.View()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - len(m.selection) - 18
	if logHeight < 5 {
		logHeight = 5
	}

	lines := m.events.Lines()
	if len(lines) > logHeight {
		lines = lines[len(lines)-logHeight:]
	}

	logContent := strings.Builder{}
	if len(lines) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		logContent.WriteString(strings.Join(lines, "\n"))
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
