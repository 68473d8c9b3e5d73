package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	ConflictsResolved    int            `json:"conflicts_resolved"`
	ConflictsByPolicy    map[string]int `json:"conflicts_by_policy"`
	ConflictsByKind      map[string]int `json:"conflicts_by_kind"`
	RemoteApplied        int            `json:"remote_applied"`
	RecordsSaved         int            `json:"records_saved"`
	RecordsDeleted       int            `json:"records_deleted"`
	SubmissionsStarted   int            `json:"submissions_started"`
	SubmissionsSucceeded int            `json:"submissions_succeeded"`
	SubmissionsFailed    int            `json:"submissions_failed"`
	FailuresByStage      map[string]int `json:"failures_by_stage"`
	EventCount           int            `json:"event_count"`
	OldestEvent          *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent          *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		ConflictsByPolicy: make(map[string]int),
		ConflictsByKind:   make(map[string]int),
		FailuresByStage:   make(map[string]int),
	}

	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case EventConflictResolved:
			m.ConflictsResolved++
			if policy, ok := event.Data["policy"].(string); ok {
				m.ConflictsByPolicy[policy]++
			}
			if kind, ok := event.Data["kind"].(string); ok {
				m.ConflictsByKind[kind]++
			}
		case EventRemoteApplied:
			m.RemoteApplied++
		case EventRecordSaved:
			m.RecordsSaved++
		case EventRecordDeleted:
			m.RecordsDeleted++
		case EventSubmissionStarted:
			m.SubmissionsStarted++
		case EventSubmissionSucceeded:
			m.SubmissionsSucceeded++
		case EventSubmissionFailed:
			m.SubmissionsFailed++
			if stage, ok := event.Data["stage"].(string); ok {
				m.FailuresByStage[stage]++
			}
		}
	}

	return m, nil
}
