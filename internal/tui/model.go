package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/renwick/coordinator/internal/coord"
	"github.com/renwick/coordinator/internal/events"
)

const (
	refreshInterval = 2 * time.Second
	maxEventLines   = 8
)

// StatusProvider supplies the coordination snapshot the dashboard renders.
type StatusProvider interface {
	Status(ctx context.Context) (coord.StatusReport, error)
}

// Model is the root Bubble Tea model for the status dashboard: an agents
// table, a locks table, and a tail of recent coordination events.
type Model struct {
	provider StatusProvider
	eventSub <-chan events.Event

	agents table.Model
	locks  table.Model
	report coord.StatusReport
	feed   []string
	err    error

	width    int
	height   int
	quitting bool
}

// statusMsg carries a fresh snapshot into Update.
type statusMsg struct {
	report coord.StatusReport
	err    error
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// New creates a dashboard model subscribed to all coordination events.
func New(provider StatusProvider, bus *events.Bus) Model {
	agentCols := []table.Column{
		{Title: "Agent", Width: 18},
		{Title: "Task", Width: 24},
		{Title: "Status", Width: 10},
		{Title: "Heartbeat", Width: 10},
	}
	lockCols := []table.Column{
		{Title: "Resource", Width: 32},
		{Title: "Holder", Width: 18},
		{Title: "Mode", Width: 6},
		{Title: "Expires", Width: 10},
	}

	return Model{
		provider: provider,
		eventSub: bus.SubscribeAll(256),
		agents:   table.New(table.WithColumns(agentCols), table.WithHeight(8)),
		locks:    table.New(table.WithColumns(lockCols), table.WithHeight(8)),
	}
}

// Init kicks off the first snapshot fetch and the event wait.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), waitForEvent(m.eventSub), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		defer cancel()
		report, err := m.provider.Status(ctx)
		return statusMsg{report: report, err: err}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetchStatus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), tick())

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.report = msg.report
			m.agents.SetRows(agentRows(msg.report))
			m.locks.SetRows(lockRows(msg.report))
		}

	case events.Event:
		m.feed = append(m.feed, describeEvent(msg))
		if len(m.feed) > maxEventLines {
			m.feed = m.feed[len(m.feed)-maxEventLines:]
		}
		return m, waitForEvent(m.eventSub)
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	state := StyleEnabled.Render("coordination enabled")
	if !m.report.CoordinationEnabled {
		state = StyleDisabled.Render("coordination DISABLED (store unavailable)")
	}
	header := StyleTitle.Render(fmt.Sprintf("Agents: %d  Locks: %d", m.report.ActiveAgents, m.report.ActiveLocks)) + "  " + state
	if m.err != nil {
		header += "  " + StyleDisabled.Render(fmt.Sprintf("status error: %v", m.err))
	}

	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		StylePane.Render(StyleTitle.Render("Active Agents")+"\n"+m.agents.View()),
		StylePane.Render(StyleTitle.Render("Held Locks")+"\n"+m.locks.View()),
	)

	feed := ""
	for _, line := range m.feed {
		feed += StyleEventLine.Render(line) + "\n"
	}

	help := StyleHelp.Render("r: refresh  q: quit")
	return header + "\n" + panes + "\n" + feed + help
}

func agentRows(report coord.StatusReport) []table.Row {
	rows := make([]table.Row, 0, len(report.Agents))
	for _, a := range report.Agents {
		rows = append(rows, table.Row{
			a.ID,
			a.CurrentTask,
			string(a.Status),
			shortAge(report.GeneratedAt.Sub(a.Heartbeat)),
		})
	}
	return rows
}

func lockRows(report coord.StatusReport) []table.Row {
	rows := make([]table.Row, 0, len(report.Locks))
	for _, l := range report.Locks {
		rows = append(rows, table.Row{
			l.Resource,
			l.Holder,
			string(l.Mode),
			shortAge(l.ExpiresAt.Sub(report.GeneratedAt)),
		})
	}
	return rows
}

func shortAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

func describeEvent(e events.Event) string {
	ts := time.Now().Format("15:04:05")
	switch ev := e.(type) {
	case events.AgentAdmittedEvent:
		return fmt.Sprintf("%s admitted %s for %s (%d locks)", ts, ev.ID, ev.TaskID, len(ev.Locked))
	case events.AgentRejectedEvent:
		return fmt.Sprintf("%s rejected %s: %d reasons", ts, ev.ID, len(ev.Reasons))
	case events.AgentReleasedEvent:
		return fmt.Sprintf("%s released %s (%d locks)", ts, ev.ID, len(ev.Released))
	case events.AgentStatusEvent:
		return fmt.Sprintf("%s %s -> %s", ts, ev.ID, ev.Status)
	case events.LocksSweptEvent:
		return fmt.Sprintf("%s swept %d expired locks", ts, len(ev.Resources))
	case events.AgentsReclaimedEvent:
		return fmt.Sprintf("%s reclaimed %d stale agents", ts, len(ev.Agents))
	default:
		return fmt.Sprintf("%s %s", ts, e.EventType())
	}
}
