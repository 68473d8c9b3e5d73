package core

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// ControlInfo holds the start/end control timestamps of an episodic task.
type ControlInfo struct {
	StartedAt *time.Time
	EndedAt   *time.Time
}

// ParsedControlInfo is the tagged result of ParseControlInfo. Present is
// false when the task carries no usable control info.
type ParsedControlInfo struct {
	Info    ControlInfo
	Present bool
}

// ParseControlInfo decodes an etci payload. The payload may be a JSON object
// or a JSON string that itself contains the object. Timestamps may be
// RFC 3339 strings or epoch milliseconds. Anything that cannot be decoded
// is reported as absent.
func ParseControlInfo(raw json.RawMessage) ParsedControlInfo {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ParsedControlInfo{}
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return ParsedControlInfo{}
		}
		inner = strings.TrimSpace(inner)
		if inner == "" || inner == "null" || inner[0] != '{' {
			return ParsedControlInfo{}
		}
		raw = json.RawMessage(inner)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return ParsedControlInfo{}
	}

	return ParsedControlInfo{
		Info: ControlInfo{
			StartedAt: parseInstant(obj["startedAt"]),
			EndedAt:   parseInstant(obj["endedAt"]),
		},
		Present: true,
	}
}

// parseInstant accepts epoch milliseconds (number or numeric string) or an
// RFC 3339 timestamp.
func parseInstant(raw json.RawMessage) *time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		t := time.UnixMilli(int64(num))
		return &t
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms)
		return &t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t
	}
	return nil
}

// IsEpisodicTaskVisible decides whether an episodic task is currently
// active. The first matching rule wins: an explicit isHidden, then started
// control info (visible while endedAt is absent or strictly after now),
// then an explicit showTask, then visible. Non-episodic tasks are not
// governed by these rules and are reported visible.
func IsEpisodicTaskVisible(task models.Task, now time.Time) bool {
	if task.Type != models.TaskTypeEpisodic {
		return true
	}

	if task.IsHidden != nil && *task.IsHidden {
		return false
	}

	if etci := ParseControlInfo(task.ETCI); etci.Present && etci.Info.StartedAt != nil {
		if etci.Info.EndedAt != nil {
			return etci.Info.EndedAt.After(now)
		}
		return true
	}

	if task.ShowTask != nil {
		return *task.ShowTask
	}

	return true
}

// SortEpisodicTasks returns the tasks ordered by title using a
// case-insensitive collation for locale. Tasks with equal titles keep their
// relative input order. An unknown locale falls back to English.
func SortEpisodicTasks(tasks []models.Task, locale string) []models.Task {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	c := collate.New(tag, collate.IgnoreCase)

	sorted := make([]models.Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.CompareString(sorted[i].Title, sorted[j].Title) < 0
	})
	return sorted
}
