// Package tui implements the edgeclaw system monitor.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/edgeclaw/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	maxActivity = 100
	maxEventLog = 50
)

// --- Types ---

// Activity is one row of the monitor table.
type Activity struct {
	At       time.Time
	Kind     string
	Subject  string
	Outcome  string
	Duration time.Duration
}

type Model struct {
	apiURL string
	apiKey string
	ctx    context.Context

	width  int
	height int

	activity  []Activity
	eventLog  []events.Event
	hubEvents chan events.Event

	ready     readyMsg
	lastErr   error
	connected bool

	table table.Model
}

// NewMonitor builds a monitor for the server at apiURL. The API key is needed for
// the admin events stream.
func NewMonitor(ctx context.Context, apiURL, apiKey string) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Time", Width: 8},
			{Title: "Kind", Width: 10},
			{Title: "Subject", Width: 24},
			{Title: "Outcome", Width: 16},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		ctx:       ctx,
		hubEvents: make(chan events.Event, 100),
		table:     t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.ctx, m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchReady(m.apiURL),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case eventMsg:
		m.connected = true
		m.handleEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case readyMsg:
		m.ready = msg
		m.lastErr = nil
		return m, m.scheduleReady()

	case sseDisconnectedMsg:
		m.connected = false
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return subscribeToEvents(m.ctx, m.apiURL, m.apiKey, m.hubEvents)()
		})

	case errMsg:
		m.lastErr = msg
		return m, m.scheduleReady()
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) scheduleReady() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return fetchReady(m.apiURL)()
	})
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	if a, ok := activityFromEvent(e); ok {
		m.activity = append([]Activity{a}, m.activity...)
		if len(m.activity) > maxActivity {
			m.activity = m.activity[:maxActivity]
		}
		m.updateTable()
	}
}

// activityFromEvent turns a runtime event into a table row.
func activityFromEvent(e events.Event) (Activity, bool) {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)
	str := func(k string) string {
		s, _ := data[k].(string)
		return s
	}

	a := Activity{At: e.At, Outcome: str("outcome")}
	if ms, ok := data["duration_ms"].(float64); ok {
		a.Duration = time.Duration(ms) * time.Millisecond
	}

	switch e.Type {
	case events.TypePluginInvoked, events.TypePluginFailed:
		a.Kind = "plugin"
		a.Subject = str("plugin")
		if cmd := str("command"); cmd != "" {
			a.Subject += " /" + cmd
		}
	case events.TypeInferenceRejected, events.TypeInferenceFailed:
		a.Kind = "inference"
		a.Subject = shortID(str("session_id"))
	case events.TypeChatCompleted:
		a.Kind = "chat"
		a.Subject = shortID(str("session_id"))
		a.Outcome = "ok"
	case events.TypeRegistryReloaded:
		a.Kind = "registry"
		if n, ok := data["commands"].(float64); ok {
			a.Subject = fmt.Sprintf("%d commands", int(n))
		}
		a.Outcome = "reloaded"
	default:
		return Activity{}, false
	}
	return a, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.activity))
	for _, a := range m.activity {
		duration := "-"
		if a.Duration > 0 {
			duration = a.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			outcomeSymbol(a.Outcome),
			a.At.Format("15:04:05"),
			a.Kind,
			a.Subject,
			a.Outcome,
			duration,
		})
	}
	m.table.SetRows(rows)
}

func outcomeSymbol(outcome string) string {
	switch outcome {
	case "ok", "reloaded":
		return statusOK.Render("●")
	case "error", "busy":
		return statusWarn.Render("◑")
	case "":
		return statusDim.Render("○")
	default:
		return statusFailed.Render("∅")
	}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	activity := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Activity"),
			m.table.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := statusDim.Render(" [q] Quit • [↑/↓] Scroll")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderHeader(),
			activity,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("READY")
	switch {
	case m.lastErr != nil:
		status = statusFailed.Render("UNREACHABLE")
	case !m.ready.Ready:
		status = statusWarn.Render("NOT READY")
	}

	stream := statusOK.Render("live")
	if !m.connected {
		stream = statusDim.Render("waiting")
	}

	host := "-"
	if m.ready.Host != nil {
		host = fmt.Sprintf("mem %.0f%% load %.2f", m.ready.Host.MemUsedPercent, m.ready.Host.Load1)
	}

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Model: %s", m.ready.Model),
		fmt.Sprintf("Queue: %d/%d", m.ready.QueueDepth, m.ready.QueueCapacity),
		fmt.Sprintf("Plugins: %d", m.ready.PluginsRoutable),
		fmt.Sprintf("Host: %s", host),
		fmt.Sprintf("Events: %s", stream),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, item := range items {
		cells[i] = cell.Render(item)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-20s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}
