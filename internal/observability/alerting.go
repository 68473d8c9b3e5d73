package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	MaxSubmissionFailures int `yaml:"max_submission_failures" json:"max_submission_failures"`
	MaxConflictsPerHour   int `yaml:"max_conflicts_per_hour" json:"max_conflicts_per_hour"`
	FailureWindowHours    int `yaml:"failure_window_hours" json:"failure_window_hours"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxSubmissionFailures: 3,
		MaxConflictsPerHour:   20,
		FailureWindowHours:    24,
	}
}

// ThresholdsFromConfig overlays configured values on the defaults.
func ThresholdsFromConfig(cfg models.AlertConfig) AlertThresholds {
	t := DefaultAlertThresholds()
	if cfg.MaxSubmissionFailures > 0 {
		t.MaxSubmissionFailures = cfg.MaxSubmissionFailures
	}
	if cfg.MaxConflictsPerHour > 0 {
		t.MaxConflictsPerHour = cfg.MaxConflictsPerHour
	}
	return t
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now().UTC()
	var alerts []Alert

	failureAlerts, err := ae.checkSubmissionFailures(now)
	if err != nil {
		return nil, fmt.Errorf("checking submission failures: %w", err)
	}
	alerts = append(alerts, failureAlerts...)

	conflictAlerts, err := ae.checkConflictRate(now)
	if err != nil {
		return nil, fmt.Errorf("checking conflict rate: %w", err)
	}
	alerts = append(alerts, conflictAlerts...)

	fallbackAlerts, err := ae.checkResolverFallbacks(now)
	if err != nil {
		return nil, fmt.Errorf("checking resolver fallbacks: %w", err)
	}
	alerts = append(alerts, fallbackAlerts...)

	return alerts, nil
}

// checkSubmissionFailures looks for tasks whose submissions kept failing
// within the failure window without a later success.
func (ae *alertEngine) checkSubmissionFailures(now time.Time) ([]Alert, error) {
	since := now.Add(-time.Duration(ae.thresholds.FailureWindowHours) * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Since: &since, Prefix: "submission."})
	if err != nil {
		return nil, err
	}

	failures := make(map[string]int)
	for _, event := range events {
		taskID, _ := event.Data["task_id"].(string)
		if taskID == "" {
			continue
		}
		switch event.Type {
		case EventSubmissionSucceeded:
			failures[taskID] = 0
		case EventSubmissionFailed:
			if stage, _ := event.Data["stage"].(string); stage == "complete" {
				continue
			}
			failures[taskID]++
		}
	}

	taskIDs := make([]string, 0, len(failures))
	for taskID := range failures {
		taskIDs = append(taskIDs, taskID)
	}
	sort.Strings(taskIDs)

	var alerts []Alert
	for _, taskID := range taskIDs {
		count := failures[taskID]
		if count > ae.thresholds.MaxSubmissionFailures {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("submission-failures-%s", taskID),
				Condition:   "submission_failing",
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("task %s has %d failed submissions in the last %d hours", taskID, count, ae.thresholds.FailureWindowHours),
				TriggeredAt: now,
			})
		}
	}

	return alerts, nil
}

// checkConflictRate alerts when more conflicts were resolved in the last
// hour than the threshold allows.
func (ae *alertEngine) checkConflictRate(now time.Time) ([]Alert, error) {
	since := now.Add(-time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Since: &since, Type: EventConflictResolved})
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	if len(events) > ae.thresholds.MaxConflictsPerHour {
		alerts = append(alerts, Alert{
			ID:          "conflict-rate",
			Condition:   "conflict_rate_high",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("%d conflicts resolved in the last hour, exceeding the maximum of %d", len(events), ae.thresholds.MaxConflictsPerHour),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

// checkResolverFallbacks reports conflicts the resolver could only settle
// by falling back to the remote version.
func (ae *alertEngine) checkResolverFallbacks(now time.Time) ([]Alert, error) {
	since := now.Add(-time.Duration(ae.thresholds.FailureWindowHours) * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Since: &since, Type: EventConflictResolved})
	if err != nil {
		return nil, err
	}

	count := 0
	for _, event := range events {
		if policy, _ := event.Data["policy"].(string); policy == "recovered_remote_wins" {
			count++
		}
	}

	var alerts []Alert
	if count > 0 {
		alerts = append(alerts, Alert{
			ID:          "resolver-fallback",
			Condition:   "resolver_fallback",
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("%d conflicts fell back to the remote version after a resolver failure", count),
			TriggeredAt: now,
		})
	}
	return alerts, nil
}
