package models

import (
	"encoding/json"
	"time"
)

// AnswerInput is one persisted answer to a task question.
type AnswerInput struct {
	ID         string    `json:"id" yaml:"id"`
	TaskID     string    `json:"taskId" yaml:"task_id"`
	QuestionID string    `json:"questionId" yaml:"question_id"`
	Answer     string    `json:"answer" yaml:"answer"`
	CreatedAt  time.Time `json:"createdAt" yaml:"created_at"`
}

// ToRecord encodes the answer as a TaskAnswer store record.
func (a AnswerInput) ToRecord() Record {
	return Record{
		Kind: KindTaskAnswer,
		ID:   a.ID,
		Fields: map[string]any{
			"taskId":     a.TaskID,
			"questionId": a.QuestionID,
			"answer":     a.Answer,
			"createdAt":  a.CreatedAt.UTC().Format(time.RFC3339Nano),
			"pk":         "TASK#" + a.TaskID,
			"sk":         "ANSWER#" + a.ID,
		},
	}
}

// TaskPatch describes the fields a submission updates on its owning task.
// Zero values leave the corresponding field untouched.
type TaskPatch struct {
	Status           TaskStatus      `json:"status,omitempty"`
	ActivityResponse json.RawMessage `json:"activityResponse,omitempty"`
}

// RemoteChange is one entry of a batch of remote mutations fed into the
// local replica.
type RemoteChange struct {
	Operation string `json:"op" yaml:"op" validate:"required"`
	Record    Record `json:"record" yaml:"record"`
}
