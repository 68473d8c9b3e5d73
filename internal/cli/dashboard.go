package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/observability"
	"github.com/valter-silva-au/questsync/internal/storage"
	"github.com/valter-silva-au/questsync/pkg/models"
)

// Dashboard panel indices.
const (
	panelAgenda = iota
	panelSync
	panelAlerts
	panelCount
)

// dashboardRefresh re-buckets the agenda so day labels roll over at midnight
// and reloads the event-log panels.
const dashboardRefresh = time.Minute

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	snapshots <-chan storage.Snapshot
	watch     <-chan storage.WatchEvent
	now       func() time.Time

	// Data.
	records     []models.Record
	agenda      *core.Agenda
	synced      bool
	metricsData *observability.Metrics
	alerts      []observability.Alert

	// State.
	loading bool
	err     error
}

// snapshotMsg carries one result set from the replica's live query.
type snapshotMsg struct {
	snapshot storage.Snapshot
	ok       bool
}

// statsLoadedMsg carries event-log derived data back to the model.
type statsLoadedMsg struct {
	metrics *observability.Metrics
	alerts  []observability.Alert
	err     error
}

// watchMsg reports an on-disk change, possibly made by another process.
type watchMsg struct {
	event storage.WatchEvent
	ok    bool
}

type tickMsg time.Time

var (
	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
)

func newDashboardModel(snapshots <-chan storage.Snapshot, watch <-chan storage.WatchEvent) dashboardModel {
	return dashboardModel{
		activePanel: panelAgenda,
		snapshots:   snapshots,
		watch:       watch,
		now:         time.Now,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snapshots), waitForWatch(m.watch), loadStats, tick())
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.rebuild()
			return m, loadStats
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		if !msg.ok {
			m.snapshots = nil
			return m, nil
		}
		m.loading = false
		m.records = msg.snapshot.Items
		m.synced = msg.snapshot.IsSynced
		m.rebuild()
		return m, waitForSnapshot(m.snapshots)

	case watchMsg:
		if !msg.ok {
			m.watch = nil
			return m, nil
		}
		next := waitForWatch(m.watch)
		if msg.event.Type == storage.WatchInvalidated || msg.event.Kind == models.KindTask {
			return m, tea.Batch(requery, next)
		}
		return m, next

	case statsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		return m, nil

	case tickMsg:
		m.rebuild()
		return m, tea.Batch(loadStats, tick())
	}

	return m, nil
}

// rebuild re-renders the agenda from the last snapshot at the current time.
func (m *dashboardModel) rebuild() {
	if Agenda == nil || m.loading {
		return
	}
	m.agenda = Agenda.FromRecords(m.records, m.now())
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" QuestSync ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading replica...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	agendaPanel := m.renderAgendaPanel()
	syncPanel := m.renderSyncPanel()
	alertsPanel := m.renderAlertsPanel()

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		agendaPanel = m.applyPanelStyle(panelAgenda, agendaPanel, colWidth-4)
		syncPanel = m.applyPanelStyle(panelSync, syncPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, agendaPanel, syncPanel, alertsPanel)
	} else {
		panelWidth := max(availableWidth-4, 20)
		agendaPanel = m.applyPanelStyle(panelAgenda, agendaPanel, panelWidth)
		syncPanel = m.applyPanelStyle(panelSync, syncPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, agendaPanel, syncPanel, alertsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderAgendaPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Agenda"))
	b.WriteString("\n")

	if m.agenda == nil {
		b.WriteString("  No agenda available.")
		return b.String()
	}
	b.WriteString(renderAgenda(m.agenda))
	return b.String()
}

func (m dashboardModel) renderSyncPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sync (7d)"))
	b.WriteString("\n")

	pending := 0
	for _, r := range m.records {
		if r.Pending {
			pending++
		}
	}
	if m.synced {
		b.WriteString(statusCompleted.Render("  All tasks uploaded"))
	} else {
		b.WriteString(statusInProgress.Render(fmt.Sprintf("  %d task(s) pending upload", pending)))
	}
	b.WriteString("\n\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value int
	}{
		{"Remote", md.RemoteApplied},
		{"Conflicts", md.ConflictsResolved},
		{"Saved", md.RecordsSaved},
		{"Submitted", md.SubmissionsSucceeded},
		{"Failed", md.SubmissionsFailed},
	}
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %d\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.Severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(string(a.Severity))))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.Message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForSeverity(severity observability.AlertSeverity) lipgloss.Style {
	switch severity {
	case observability.SeverityHigh:
		return severityHigh
	case observability.SeverityMedium:
		return severityMedium
	case observability.SeverityLow:
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func waitForSnapshot(ch <-chan storage.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		return snapshotMsg{snapshot: s, ok: ok}
	}
}

func waitForWatch(ch <-chan storage.WatchEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		return watchMsg{event: ev, ok: ok}
	}
}

// requery reads the task collection from disk after an external change.
func requery() tea.Msg {
	if Store == nil {
		return nil
	}
	records, err := Store.Query(context.Background(), models.KindTask)
	if err != nil {
		return statsLoadedMsg{err: fmt.Errorf("reloading tasks: %w", err)}
	}
	synced := true
	for _, r := range records {
		if r.Pending {
			synced = false
			break
		}
	}
	return snapshotMsg{snapshot: storage.Snapshot{Items: records, IsSynced: synced}, ok: true}
}

func tick() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func loadStats() tea.Msg {
	var result statsLoadedMsg

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(time.Now().UTC().AddDate(0, 0, -7))
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = metrics
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity)
		})
		result.alerts = alerts
	}

	return result
}

func severityRank(s observability.AlertSeverity) int {
	switch s {
	case observability.SeverityHigh:
		return 0
	case observability.SeverityMedium:
		return 1
	case observability.SeverityLow:
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal view of the agenda, sync state and alerts",
	Long: `Launch an interactive terminal dashboard that follows the local replica:
the agenda is rebuilt whenever a task changes, alongside sync metrics and
active alerts.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil || Agenda == nil {
			return fmt.Errorf("replica store not initialized")
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		snapshots, err := Store.ObserveQuery(ctx, models.KindTask)
		if err != nil {
			return fmt.Errorf("observing tasks: %w", err)
		}
		watch, err := Store.Watch(ctx)
		if err != nil {
			return fmt.Errorf("watching replica: %w", err)
		}

		p := tea.NewProgram(newDashboardModel(snapshots, watch), tea.WithAltScreen(), tea.WithContext(ctx))
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
