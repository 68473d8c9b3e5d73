package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Event types written by the replica store, the conflict hook and the
// submission guard.
const (
	EventConflictResolved    = "conflict.resolved"
	EventRecordSaved         = "record.saved"
	EventRecordDeleted       = "record.deleted"
	EventRemoteApplied       = "remote.applied"
	EventSubmissionStarted   = "submission.started"
	EventSubmissionSucceeded = "submission.succeeded"
	EventSubmissionFailed    = "submission.failed"
)

// Event represents a single observable event in the system.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`  // e.g. "conflict.resolved", "submission.failed"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter specifies criteria for reading events. Prefix matches a type
// family such as "submission.".
type EventFilter struct {
	Since  *time.Time
	Until  *time.Time
	Type   string
	Prefix string
	Level  string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using append-only JSONL files.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates a new EventLog backed by a JSONL file at the given path.
func NewJSONLEventLog(path string) (EventLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
	}, nil
}

// Write appends a JSON-encoded event followed by a newline to the log file.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log file line by line and returns the events matching
// filter. Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// matchesEventFilter checks whether an event satisfies all filter criteria.
func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Prefix != "" && !strings.HasPrefix(event.Type, filter.Prefix) {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	return true
}

// Recorder turns LogEvent calls from core and storage into leveled,
// timestamped events on an EventLog.
type Recorder struct {
	log EventLog
	now func() time.Time
}

// NewRecorder creates a Recorder writing to log.
func NewRecorder(log EventLog) *Recorder {
	return &Recorder{log: log, now: time.Now}
}

// LogEvent writes one event. A nil Recorder or log discards it.
func (r *Recorder) LogEvent(eventType string, data map[string]any) error {
	if r == nil || r.log == nil {
		return nil
	}
	return r.log.Write(Event{
		Time:    r.now().UTC(),
		Level:   levelFor(eventType, data),
		Type:    eventType,
		Message: messageFor(eventType, data),
		Data:    data,
	})
}

func levelFor(eventType string, data map[string]any) string {
	switch eventType {
	case EventSubmissionFailed:
		return "ERROR"
	case EventConflictResolved:
		return "WARN"
	case EventRemoteApplied:
		if conflicted, _ := data["conflicted"].(bool); conflicted {
			return "WARN"
		}
	}
	return "INFO"
}

func messageFor(eventType string, data map[string]any) string {
	kind, _ := data["kind"].(string)
	id, _ := data["id"].(string)
	taskID, _ := data["task_id"].(string)
	switch eventType {
	case EventConflictResolved:
		return fmt.Sprintf("conflict on %s %s resolved by %v", kind, id, data["policy"])
	case EventRecordSaved:
		return fmt.Sprintf("%s %s saved", kind, id)
	case EventRecordDeleted:
		return fmt.Sprintf("%s %s deleted", kind, id)
	case EventRemoteApplied:
		return fmt.Sprintf("remote %v applied to %s %s", data["operation"], kind, id)
	case EventSubmissionStarted:
		return fmt.Sprintf("submitting answers for task %s", taskID)
	case EventSubmissionSucceeded:
		return fmt.Sprintf("answers for task %s submitted", taskID)
	case EventSubmissionFailed:
		return fmt.Sprintf("submission for task %s failed at %v", taskID, data["stage"])
	default:
		return eventType
	}
}
