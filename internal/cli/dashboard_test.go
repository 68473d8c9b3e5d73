package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/observability"
	"github.com/valter-silva-au/questsync/internal/storage"
	"github.com/valter-silva-au/questsync/pkg/models"
)

// mockDashboardMetrics implements observability.MetricsCalculator.
type mockDashboardMetrics struct {
	metrics *observability.Metrics
	err     error
}

func (m *mockDashboardMetrics) Calculate(_ time.Time) (*observability.Metrics, error) {
	return m.metrics, m.err
}

// mockDashboardAlerts implements observability.AlertEngine.
type mockDashboardAlerts struct {
	alerts []observability.Alert
	err    error
}

func (m *mockDashboardAlerts) Evaluate() ([]observability.Alert, error) {
	return m.alerts, m.err
}

var dashboardNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func withDashboardAgenda(t *testing.T) {
	t.Helper()
	orig := Agenda
	t.Cleanup(func() { Agenda = orig })
	Agenda = core.NewAgendaService(nil, core.BucketOptions{Location: time.UTC}, "en")
}

func dashboardTasks() []models.Record {
	at := func(h int) float64 {
		return float64(time.Date(2026, 3, 10, h, 0, 0, 0, time.UTC).UnixMilli())
	}
	return []models.Record{
		{Kind: models.KindTask, ID: "mood", Pending: true, Fields: map[string]any{
			"title": "Mood check", "taskType": "SCHEDULED", "status": "OPEN", "expireTimeInMillSec": at(14),
		}},
		{Kind: models.KindTask, ID: "gone", Deleted: true, Fields: map[string]any{"title": "Gone"}},
	}
}

func loadedModel(t *testing.T) dashboardModel {
	t.Helper()
	withDashboardAgenda(t)
	m := newDashboardModel(nil, nil)
	m.now = func() time.Time { return dashboardNow }
	updated, _ := m.Update(snapshotMsg{snapshot: storage.Snapshot{Items: dashboardTasks()}, ok: true})
	return updated.(dashboardModel)
}

func TestDashboardModel_Init(t *testing.T) {
	m := newDashboardModel(nil, nil)

	if m.activePanel != panelAgenda {
		t.Errorf("expected activePanel = %d, got %d", panelAgenda, m.activePanel)
	}
	if !m.loading {
		t.Error("expected loading = true on init")
	}
	if cmd := m.Init(); cmd == nil {
		t.Error("expected Init to return a non-nil command")
	}
}

func TestDashboardModel_KeyQ(t *testing.T) {
	m := newDashboardModel(nil, nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected tea.Quit command from q key")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestDashboardModel_KeyEsc(t *testing.T) {
	m := newDashboardModel(nil, nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEscape})
	if cmd == nil {
		t.Fatal("expected tea.Quit command from esc key")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestDashboardModel_TabCycles(t *testing.T) {
	var m tea.Model = newDashboardModel(nil, nil)
	want := []int{panelSync, panelAlerts, panelAgenda}
	for _, w := range want {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
		if got := m.(dashboardModel).activePanel; got != w {
			t.Fatalf("activePanel = %d, want %d", got, w)
		}
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if got := m.(dashboardModel).activePanel; got != panelAlerts {
		t.Errorf("shift+tab from agenda = %d, want %d", got, panelAlerts)
	}
}

func TestDashboardModel_Snapshot(t *testing.T) {
	m := loadedModel(t)

	if m.loading {
		t.Error("expected loading = false after a snapshot")
	}
	if m.agenda == nil || len(m.agenda.Days) != 1 {
		t.Fatalf("agenda = %+v, want one day", m.agenda)
	}
	day := m.agenda.Days[0]
	if day.DayLabel != core.LabelToday || len(day.TimeGroups) != 1 || day.TimeGroups[0].Tasks[0].ID != "mood" {
		t.Errorf("today = %+v", day)
	}
}

func TestDashboardModel_SnapshotWaitsForNext(t *testing.T) {
	withDashboardAgenda(t)
	ch := make(chan storage.Snapshot, 1)
	m := newDashboardModel(ch, nil)

	_, cmd := m.Update(snapshotMsg{snapshot: storage.Snapshot{IsSynced: true}, ok: true})
	if cmd == nil {
		t.Fatal("expected a command waiting for the next snapshot")
	}
	ch <- storage.Snapshot{Items: dashboardTasks()}
	msg, ok := cmd().(snapshotMsg)
	if !ok || !msg.ok || len(msg.snapshot.Items) != 2 {
		t.Errorf("next message = %+v", msg)
	}
}

func TestDashboardModel_ClosedSnapshots(t *testing.T) {
	ch := make(chan storage.Snapshot)
	m := newDashboardModel(ch, nil)

	updated, cmd := m.Update(snapshotMsg{ok: false})
	if cmd != nil {
		t.Error("expected no command after the stream closes")
	}
	if updated.(dashboardModel).snapshots != nil {
		t.Error("expected the closed channel to be dropped")
	}
}

func TestDashboardModel_WatchRequeries(t *testing.T) {
	store := useTestStore(t)
	seedTask(t, store, "t1", map[string]any{"title": "From disk"})
	watch := make(chan storage.WatchEvent)
	m := newDashboardModel(nil, watch)

	_, cmd := m.Update(watchMsg{event: storage.WatchEvent{Type: storage.WatchKindChanged, Kind: models.KindTask}, ok: true})
	if cmd == nil {
		t.Fatal("expected a requery command")
	}
	msg := requery().(snapshotMsg)
	if len(msg.snapshot.Items) != 1 || msg.snapshot.IsSynced {
		t.Errorf("requery = %+v", msg)
	}

	updated, _ := m.Update(watchMsg{ok: false})
	if updated.(dashboardModel).watch != nil {
		t.Error("expected the closed watch channel to be dropped")
	}
}

func TestDashboardModel_TickRebuildsAgenda(t *testing.T) {
	m := loadedModel(t)
	m.now = func() time.Time { return dashboardNow.Add(24 * time.Hour) }

	updated, cmd := m.Update(tickMsg(dashboardNow.Add(24 * time.Hour)))
	if cmd == nil {
		t.Error("expected tick to schedule follow-up commands")
	}
	dm := updated.(dashboardModel)
	if len(dm.agenda.Days) != 0 {
		t.Errorf("an expired open task should drop out the next day, got %+v", dm.agenda.Days)
	}
}

func TestDashboardModel_StatsLoaded(t *testing.T) {
	m := loadedModel(t)

	updated, _ := m.Update(statsLoadedMsg{
		metrics: &observability.Metrics{ConflictsResolved: 4},
		alerts:  []observability.Alert{{Severity: observability.SeverityHigh, Message: "failing"}},
	})
	dm := updated.(dashboardModel)
	if dm.metricsData.ConflictsResolved != 4 || len(dm.alerts) != 1 {
		t.Errorf("model = %+v", dm)
	}

	updated, _ = dm.Update(statsLoadedMsg{err: errors.New("boom")})
	if updated.(dashboardModel).err == nil {
		t.Error("expected error to be stored")
	}
}

func TestDashboardModel_View(t *testing.T) {
	m := newDashboardModel(nil, nil)
	if got := m.View(); got != "Loading..." {
		t.Errorf("View before resize = %q", got)
	}

	m.width = 80
	if !strings.Contains(m.View(), "Loading replica") {
		t.Errorf("View while loading = %q", m.View())
	}

	lm := loadedModel(t)
	lm.width, lm.height = 80, 40
	lm.metricsData = &observability.Metrics{RemoteApplied: 2}
	lm.alerts = []observability.Alert{{Severity: observability.SeverityMedium, Message: "many conflicts"}}

	view := lm.View()
	for _, want := range []string{"Agenda", "Mood check", "1 task(s) pending upload", "Remote", "many conflicts"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "Gone") {
		t.Errorf("view should not show deleted tasks:\n%s", view)
	}

	lm.width = 200
	if !strings.Contains(lm.View(), "Alerts") {
		t.Error("horizontal layout should render the alerts panel")
	}
}

func TestLoadStats(t *testing.T) {
	origCalc, origEngine := MetricsCalc, AlertEngine
	defer func() { MetricsCalc, AlertEngine = origCalc, origEngine }()

	MetricsCalc = &mockDashboardMetrics{metrics: &observability.Metrics{EventCount: 9}}
	AlertEngine = &mockDashboardAlerts{alerts: []observability.Alert{
		{Severity: observability.SeverityLow, Message: "low"},
		{Severity: observability.SeverityHigh, Message: "high"},
	}}

	msg := loadStats().(statsLoadedMsg)
	if msg.err != nil {
		t.Fatalf("unexpected error: %v", msg.err)
	}
	if msg.metrics.EventCount != 9 {
		t.Errorf("EventCount = %d", msg.metrics.EventCount)
	}
	if len(msg.alerts) != 2 || msg.alerts[0].Message != "high" {
		t.Errorf("alerts should be sorted by severity: %+v", msg.alerts)
	}

	MetricsCalc = &mockDashboardMetrics{err: errors.New("unreadable")}
	if msg := loadStats().(statsLoadedMsg); msg.err == nil || !strings.Contains(msg.err.Error(), "loading metrics") {
		t.Errorf("err = %v", msg.err)
	}

	MetricsCalc = nil
	AlertEngine = &mockDashboardAlerts{err: errors.New("unreadable")}
	if msg := loadStats().(statsLoadedMsg); msg.err == nil || !strings.Contains(msg.err.Error(), "loading alerts") {
		t.Errorf("err = %v", msg.err)
	}
}

func TestDashboardCmd_NotInitialized(t *testing.T) {
	origStore, origAgenda := Store, Agenda
	defer func() { Store, Agenda = origStore, origAgenda }()
	Store, Agenda = nil, nil

	err := dashboardCmd.RunE(dashboardCmd, []string{})
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("err = %v", err)
	}
}
