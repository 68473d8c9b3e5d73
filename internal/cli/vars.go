package cli

import (
	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/observability"
	"github.com/valter-silva-au/questsync/internal/storage"
)

// Service instances, set during app initialization in app.go.
var (
	BasePath string
	Store    storage.ReplicaStore
	Agenda   core.AgendaService
	Resolver core.ConflictResolver
	Guard    *core.SubmissionGuard
	TaskSvc  core.TaskService
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)
