package core

import (
	"context"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// AnswerService persists one answer to a task question.
// This interface is defined locally in core to avoid importing storage.
type AnswerService interface {
	CreateAnswer(ctx context.Context, in models.AnswerInput) (models.Record, error)
}

// TaskService applies a submission's patch to the owning task.
// This interface is defined locally in core to avoid importing storage.
type TaskService interface {
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Record, error)
}

// Alerter shows a user-visible message. Implementations must not block for
// long; the submission guard calls it while still holding its slot.
type Alerter interface {
	Alert(ctx context.Context, title, message string)
}
