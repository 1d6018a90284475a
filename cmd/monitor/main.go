// Command monitor is a terminal dashboard for a running xcomfortd
// instance: it polls the status API and renders live datapoint state.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 1)

	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// datapointStatus, windowStatus, hostStatus, and statusResponse mirror
// statusapi's JSON shape; duplicated rather than imported so this
// command has no dependency on the daemon's internal packages beyond
// the wire-visible JSON contract.
type datapointStatus struct {
	Datapoint       uint8  `json:"datapoint"`
	Event           string `json:"event"`
	NewValue        *int32 `json:"new_value"`
	SentValue       *int32 `json:"sent_value"`
	ActiveMessageID *int   `json:"active_message_id"`
	TimeoutMillis   int64  `json:"timeout_ms"`
	StatusRequests  int    `json:"status_requests"`
}

type windowStatus struct {
	InTransit int `json:"in_transit"`
	Max       int `json:"max"`
}

type hostStatus struct {
	CPUPercent float64 `json:"cpu_pct"`
	MemPercent float64 `json:"mem_pct"`
}

type statusResponse struct {
	Connected  bool              `json:"connected"`
	Window     windowStatus      `json:"window"`
	Datapoints []datapointStatus `json:"datapoints"`
	Host       hostStatus        `json:"host"`
}

type statusMsg struct {
	status statusResponse
	err    error
}

type model struct {
	addr    string
	client  *http.Client
	table   table.Model
	status  statusResponse
	lastErr error
	width   int
	height  int
}

func newModel(addr string) model {
	columns := []table.Column{
		{Title: "Datapoint", Width: 9},
		{Title: "Event", Width: 10},
		{Title: "New", Width: 6},
		{Title: "Sent", Width: 6},
		{Title: "MsgID", Width: 6},
		{Title: "Timeout", Width: 10},
		{Title: "Requests", Width: 8},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(15))

	return model{
		addr:   addr,
		client: &http.Client{Timeout: 2 * time.Second},
		table:  t,
	}
}

func (m model) Init() tea.Cmd {
	return m.poll()
}

func (m model) poll() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return m.fetch()
	})
}

func (m model) fetch() tea.Msg {
	resp, err := m.client.Get(fmt.Sprintf("http://%s/status", m.addr))
	if err != nil {
		return statusMsg{err: err}
	}
	defer resp.Body.Close()

	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return statusMsg{err: err}
	}
	return statusMsg{status: s}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}

	case statusMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, m.poll()
		}
		m.lastErr = nil
		m.status = msg.status
		m.table.SetRows(rowsFor(msg.status))
		return m, m.poll()
	}
	return m, nil
}

func rowsFor(s statusResponse) []table.Row {
	rows := make([]table.Row, 0, len(s.Datapoints))
	for _, dp := range s.Datapoints {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", dp.Datapoint),
			dp.Event,
			optionalInt32(dp.NewValue),
			optionalInt32(dp.SentValue),
			optionalInt(dp.ActiveMessageID),
			fmt.Sprintf("%dms", dp.TimeoutMillis),
			fmt.Sprintf("%d/3", dp.StatusRequests),
		})
	}
	return rows
}

func optionalInt32(v *int32) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func (m model) View() string {
	connected := "down"
	if m.status.Connected {
		connected = "up"
	}
	header := headerStyle.Render(fmt.Sprintf(
		"xcomfortd monitor  —  %s  —  in-flight %d/%d  —  cpu %.1f%%  mem %.1f%%",
		connected, m.status.Window.InTransit, m.status.Window.Max, m.status.Host.CPUPercent, m.status.Host.MemPercent,
	))

	body := m.table.View()
	if m.lastErr != nil {
		body = errStyle.Render(fmt.Sprintf("status API unreachable at %s: %v", m.addr, m.lastErr))
	}

	footer := footerStyle.Render("q: quit   r: refresh now")

	return fmt.Sprintf("%s\n\n%s\n\n%s", header, body, footer)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8686", "xcomfortd status API address")
	flag.Parse()

	p := tea.NewProgram(newModel(*addr))
	if _, err := p.Run(); err != nil {
		fmt.Println("monitor:", err)
	}
}
