package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/questsync/internal/observability"
)

type alertsMock struct {
	evaluateFn func() ([]observability.Alert, error)
}

func (m *alertsMock) Evaluate() ([]observability.Alert, error) {
	return m.evaluateFn()
}

type notifierMock struct {
	notifyFn func(alerts []observability.Alert) error
}

func (m *notifierMock) Notify(_ context.Context, alerts []observability.Alert) error {
	return m.notifyFn(alerts)
}

func withAlerts(t *testing.T, engine observability.AlertEngine, notifier observability.Notifier, notify bool) *bytes.Buffer {
	t.Helper()
	origEngine, origNotifier, origNotify := AlertEngine, Notifier, alertsNotify
	t.Cleanup(func() {
		AlertEngine, Notifier, alertsNotify = origEngine, origNotifier, origNotify
		alertsCmd.SetOut(nil)
	})
	AlertEngine, Notifier, alertsNotify = engine, notifier, notify

	var out bytes.Buffer
	alertsCmd.SetOut(&out)
	return &out
}

func someAlerts() ([]observability.Alert, error) {
	return []observability.Alert{
		{Severity: observability.SeverityHigh, Message: "5 submissions failed", TriggeredAt: time.Now().UTC()},
		{Severity: observability.SeverityMedium, Message: "42 conflicts in the last hour", TriggeredAt: time.Now().UTC()},
	}, nil
}

func TestAlertsCmd_NilEngine(t *testing.T) {
	withAlerts(t, nil, nil, false)

	err := alertsCmd.RunE(alertsCmd, []string{})
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestAlertsCmd_NoAlerts(t *testing.T) {
	out := withAlerts(t, &alertsMock{evaluateFn: func() ([]observability.Alert, error) {
		return nil, nil
	}}, nil, false)

	if err := alertsCmd.RunE(alertsCmd, []string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No active alerts.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAlertsCmd_WithAlerts(t *testing.T) {
	out := withAlerts(t, &alertsMock{evaluateFn: someAlerts}, nil, false)

	if err := alertsCmd.RunE(alertsCmd, []string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"2 active alert(s)", "[HIGH] 5 submissions failed", "[MEDIUM]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestAlertsCmd_EvaluateError(t *testing.T) {
	withAlerts(t, &alertsMock{evaluateFn: func() ([]observability.Alert, error) {
		return nil, fmt.Errorf("event log read error")
	}}, nil, false)

	err := alertsCmd.RunE(alertsCmd, []string{})
	if err == nil || !strings.Contains(err.Error(), "evaluating alerts") {
		t.Fatalf("expected evaluate error, got %v", err)
	}
}

func TestAlertsCmd_NotifyWithoutNotifier(t *testing.T) {
	withAlerts(t, &alertsMock{evaluateFn: someAlerts}, nil, true)

	err := alertsCmd.RunE(alertsCmd, []string{})
	if err == nil || !strings.Contains(err.Error(), "notifications are not enabled") {
		t.Fatalf("expected notifications error, got %v", err)
	}
}

func TestAlertsCmd_NotifySuccess(t *testing.T) {
	var sent []observability.Alert
	out := withAlerts(t, &alertsMock{evaluateFn: someAlerts}, &notifierMock{
		notifyFn: func(alerts []observability.Alert) error {
			sent = alerts
			return nil
		},
	}, true)

	if err := alertsCmd.RunE(alertsCmd, []string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sent) != 2 {
		t.Errorf("notified %d alerts, want 2", len(sent))
	}
	if !strings.Contains(out.String(), "Notification sent.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAlertsCmd_NotifyError(t *testing.T) {
	withAlerts(t, &alertsMock{evaluateFn: someAlerts}, &notifierMock{
		notifyFn: func([]observability.Alert) error { return fmt.Errorf("webhook failed") },
	}, true)

	err := alertsCmd.RunE(alertsCmd, []string{})
	if err == nil || !strings.Contains(err.Error(), "sending notification") {
		t.Fatalf("expected notify error, got %v", err)
	}
}

func TestAlertsCmd_NoAlertsSkipsNotify(t *testing.T) {
	called := false
	withAlerts(t, &alertsMock{evaluateFn: func() ([]observability.Alert, error) {
		return nil, nil
	}}, &notifierMock{notifyFn: func([]observability.Alert) error {
		called = true
		return nil
	}}, true)

	if err := alertsCmd.RunE(alertsCmd, []string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("Notify should not be called without alerts")
	}
}
