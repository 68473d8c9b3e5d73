package models

import (
	"strings"
	"time"
)

// EntityKind names the type of entity a synchronized record belongs to.
type EntityKind string

const (
	KindTask       EntityKind = "Task"
	KindTaskAnswer EntityKind = "TaskAnswer"
	KindQuestion   EntityKind = "Question"
	KindActivity   EntityKind = "Activity"
	KindDataPoint  EntityKind = "DataPoint"
)

// DeletedField is the field name the sync engine uses to mark a record as
// deleted when the marker arrives inside the attribute payload.
const DeletedField = "_deleted"

// Record is one entity instance as held by the synchronized store. Fields
// carries the entity attributes; the remaining members are sync bookkeeping.
type Record struct {
	Kind      EntityKind     `json:"kind" yaml:"kind" validate:"required,excludesall=-/\\."`
	ID        string         `json:"id" yaml:"id" validate:"required"`
	Version   int            `json:"_version" yaml:"_version"`
	Deleted   bool           `json:"_deleted,omitempty" yaml:"_deleted,omitempty"`
	Pending   bool           `json:"_pending,omitempty" yaml:"_pending,omitempty"`
	UpdatedAt time.Time      `json:"_lastChangedAt" yaml:"_lastChangedAt,omitempty"`
	Fields    map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// IsTombstoned reports whether the record carries a truthy deletion marker,
// either as the Deleted flag or as a _deleted attribute.
func (r Record) IsTombstoned() bool {
	if r.Deleted {
		return true
	}
	v, ok := r.Fields[DeletedField]
	if !ok {
		return false
	}
	return truthy(v)
}

// Has reports whether key is present with a meaningful value: not nil and
// not the empty string.
func (r Record) Has(key string) bool {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// Get returns the raw value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Set stores value under key, allocating Fields when needed.
func (r *Record) Set(key string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[key] = value
}

// Clone returns a deep copy of the record. Nested maps, slices and byte
// slices are copied so the clone never aliases the original's storage.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	case []byte:
		b := make([]byte, len(val))
		copy(b, val)
		return b
	default:
		return v
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(strings.ToLower(val))
		return s == "true" || s == "1"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return false
	}
}

// CloneField returns a deep copy of the value stored under key.
func (r Record) CloneField(key string) any {
	return cloneValue(r.Fields[key])
}
