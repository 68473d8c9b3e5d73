package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskType represents how a task is scheduled.
type TaskType string

const (
	TaskTypeScheduled TaskType = "SCHEDULED"
	TaskTypeTimed     TaskType = "TIMED"
	TaskTypeEpisodic  TaskType = "EPISODIC"
)

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusVisible    TaskStatus = "VISIBLE"
	StatusStarted    TaskStatus = "STARTED"
	StatusInProgress TaskStatus = "INPROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusExpired    TaskStatus = "EXPIRED"
	StatusRecalled   TaskStatus = "RECALLED"
)

// ValidStatuses lists every known task status in lifecycle order.
var ValidStatuses = []TaskStatus{
	StatusOpen, StatusVisible, StatusStarted, StatusInProgress,
	StatusCompleted, StatusExpired, StatusRecalled,
}

// IsValidStatus reports whether s is one of ValidStatuses.
func IsValidStatus(s TaskStatus) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Task attribute names as they appear in Record.Fields.
const (
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldStatus           = "status"
	FieldTaskType         = "taskType"
	FieldStartTime        = "startTimeInMillSec"
	FieldExpireTime       = "expireTimeInMillSec"
	FieldEndTime          = "endTimeInMillSec"
	FieldETCI             = "etci"
	FieldIsHidden         = "isHidden"
	FieldShowTask         = "showTask"
	FieldActivityAnswer   = "activityAnswer"
	FieldActivityResponse = "activityResponse"
)

// Task is the typed view of a Task record. Time fields are epoch
// milliseconds; ETCI arrives either as a JSON object or as a JSON string
// wrapping one and is decoded by core.ParseControlInfo.
type Task struct {
	ID                  string          `json:"id" yaml:"id"`
	PK                  string          `json:"pk,omitempty" yaml:"pk,omitempty"`
	SK                  string          `json:"sk,omitempty" yaml:"sk,omitempty"`
	Title               string          `json:"title,omitempty" yaml:"title,omitempty"`
	Description         string          `json:"description,omitempty" yaml:"description,omitempty"`
	Status              TaskStatus      `json:"status,omitempty" yaml:"status,omitempty"`
	Type                TaskType        `json:"taskType,omitempty" yaml:"taskType,omitempty"`
	StartTimeInMillSec  *int64          `json:"startTimeInMillSec,omitempty" yaml:"startTimeInMillSec,omitempty"`
	ExpireTimeInMillSec *int64          `json:"expireTimeInMillSec,omitempty" yaml:"expireTimeInMillSec,omitempty"`
	EndTimeInMillSec    *int64          `json:"endTimeInMillSec,omitempty" yaml:"endTimeInMillSec,omitempty"`
	ETCI                json.RawMessage `json:"etci,omitempty" yaml:"-"`
	IsHidden            *bool           `json:"isHidden,omitempty" yaml:"isHidden,omitempty"`
	ShowTask            *bool           `json:"showTask,omitempty" yaml:"showTask,omitempty"`
	ActivityAnswer      json.RawMessage `json:"activityAnswer,omitempty" yaml:"-"`
	ActivityResponse    json.RawMessage `json:"activityResponse,omitempty" yaml:"-"`
	Deleted             bool            `json:"_deleted,omitempty" yaml:"_deleted,omitempty"`
}

// IsTombstoned reports whether the task has been soft-deleted.
func (t Task) IsTombstoned() bool {
	return t.Deleted
}

// ExpireTime returns the expire instant, if set.
func (t Task) ExpireTime() (time.Time, bool) {
	if t.ExpireTimeInMillSec == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*t.ExpireTimeInMillSec), true
}

// TaskFromRecord decodes a Task record into its typed view.
func TaskFromRecord(r Record) (Task, error) {
	if r.Kind != "" && r.Kind != KindTask {
		return Task{}, fmt.Errorf("decoding task %s: record kind is %s", r.ID, r.Kind)
	}
	data, err := json.Marshal(r.Fields)
	if err != nil {
		return Task{}, fmt.Errorf("decoding task %s: %w", r.ID, err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decoding task %s: %w", r.ID, err)
	}
	t.ID = r.ID
	t.Deleted = r.IsTombstoned()
	return t, nil
}

// TasksFromRecords decodes every record it can. Records that fail to decode
// are skipped and reported through the joined error.
func TasksFromRecords(records []Record) ([]Task, error) {
	tasks := make([]Task, 0, len(records))
	var errs []error
	for _, r := range records {
		t, err := TaskFromRecord(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, errors.Join(errs...)
}

// ToRecord encodes the task as a store record. Unset optional attributes are
// left out of Fields entirely.
func (t Task) ToRecord() (Record, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return Record{}, fmt.Errorf("encoding task %s: %w", t.ID, err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("encoding task %s: %w", t.ID, err)
	}
	delete(fields, "id")
	delete(fields, DeletedField)
	return Record{
		Kind:    KindTask,
		ID:      t.ID,
		Deleted: t.Deleted,
		Fields:  fields,
	}, nil
}

// Int64 returns a pointer to v, for populating optional time fields.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v, for populating optional flags.
func Bool(v bool) *bool { return &v }
