package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var monitorAddr string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard polling a running broker",
	Long: `monitor polls a running broker's /api/status endpoint on an
interval and renders a single live-updating screen of its counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newMonitorModel(monitorAddr), tea.WithAltScreen())
		defer func() {
			if r := recover(); r != nil {
				p.Kill()
			}
		}()
		_, err := p.Run()
		return err
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "http://localhost:3000", "base address of the broker to monitor")
}

type statusSnapshot struct {
	ServerStartTime time.Time `json:"serverStartTime"`
	PendingRequests int       `json:"pendingRequests"`
	Stats           struct {
		ActiveSlugs      int     `json:"active_slugs"`
		AverageLatencyMs float64 `json:"average_latency_ms"`
		SampleCount      int     `json:"sample_count"`
		Received         int     `json:"received"`
		Succeeded        int     `json:"succeeded"`
		Failed           int     `json:"failed"`
	} `json:"stats"`
}

type statusMsg struct {
	snapshot statusSnapshot
	err      error
}

type monitorModel struct {
	addr     string
	client   *http.Client
	snapshot statusSnapshot
	err      error
	quitting bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func newMonitorModel(addr string) monitorModel {
	return monitorModel{addr: addr, client: &http.Client{Timeout: 3 * time.Second}}
}

func (m monitorModel) Init() tea.Cmd {
	return m.poll()
}

func (m monitorModel) poll() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Get(m.addr + "/api/status")
		if err != nil {
			return statusMsg{err: err}
		}
		defer resp.Body.Close()

		var snap statusSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{snapshot: snap}
	}
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case statusMsg:
		m.snapshot = msg.snapshot
		m.err = msg.err
		return m, tick()
	case tickMsg:
		return m, m.poll()
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "\n"
	}

	title := titleStyle.Render("switchboard monitor") + "  " + labelStyle.Render(m.addr)
	if m.err != nil {
		return fmt.Sprintf("%s\n\n%s\n\n(press q to quit)\n", title, errorStyle.Render(m.err.Error()))
	}

	return fmt.Sprintf(
		"%s\n\n%s %d\n%s %d\n%s %.1fms\n%s %d\n%s %d / %d / %d\n\n(press q to quit)\n",
		title,
		labelStyle.Render("active slugs:"), m.snapshot.Stats.ActiveSlugs,
		labelStyle.Render("pending requests:"), m.snapshot.PendingRequests,
		labelStyle.Render("average latency:"), m.snapshot.Stats.AverageLatencyMs,
		labelStyle.Render("samples:"), m.snapshot.Stats.SampleCount,
		labelStyle.Render("received/succeeded/failed:"), m.snapshot.Stats.Received, m.snapshot.Stats.Succeeded, m.snapshot.Stats.Failed,
	)
}
