// Package internal provides the App struct that wires all components of
// QuestSync together and initializes the CLI layer.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/valter-silva-au/questsync/internal/cli"
	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/observability"
	"github.com/valter-silva-au/questsync/internal/storage"
	"github.com/valter-silva-au/questsync/pkg/models"
)

// EventLogFileName is the event log written under the base path.
const EventLogFileName = ".qsync_events.jsonl"

// App holds all service dependencies of QuestSync.
type App struct {
	BasePath string
	Config   *models.GlobalConfig

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	Store storage.ReplicaStore

	// Core services
	Resolver      core.ConflictResolver
	Agenda        core.AgendaService
	Guard         *core.SubmissionGuard
	Answers       core.AnswerService
	Tasks         core.TaskService
	WorkspaceInit core.WorkspaceInitializer

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components. basePath is the directory that
// holds .qsyncconfig and the replica (typically ~/.qsync or the current
// directory).
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	globalCfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		// An unreadable file falls back to defaults; invalid values do not.
		fmt.Fprintf(os.Stderr, "Warning: %v; using defaults\n", err)
		globalCfg = core.DefaultGlobalConfig()
	}
	if err := app.ConfigMgr.ValidateConfig(globalCfg); err != nil {
		return nil, err
	}
	app.Config = globalCfg

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, EventLogFileName))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = observability.NewRecorder(app.EventLog)
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.ThresholdsFromConfig(globalCfg.Notifications.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if globalCfg.Notifications.Enabled && globalCfg.Notifications.WebhookURL != "" {
		app.Notifier = observability.NewWebhookNotifier(globalCfg.Notifications.WebhookURL)
	}

	// --- Storage layer ---
	storePath, err := homedir.Expand(globalCfg.Store.Path)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("expanding store.path: %w", err)
	}
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(basePath, storePath)
	}
	app.Store, err = storage.NewReplicaStore(storage.Options{
		BasePath:       storePath,
		CacheSizeBytes: globalCfg.Store.CacheSizeBytes,
		WatchDebounce:  time.Duration(globalCfg.Store.WatchDebounceMS) * time.Millisecond,
		Events:         events,
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("opening replica: %w", err)
	}

	// --- Core services ---
	app.Resolver = core.NewConflictResolver(core.IdentityFieldsFromConfig(globalCfg.Conflict))
	app.Store.SetConflictHandler(core.LoggingHandlerFor(app.Resolver, events))

	bucketOpts, err := core.BucketOptionsFromConfig(globalCfg.Display)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Agenda = core.NewAgendaService(app.Store, bucketOpts, globalCfg.Display.Locale)

	app.Answers = &answerServiceAdapter{store: app.Store}
	app.Tasks = &taskServiceAdapter{store: app.Store}
	app.Guard = core.NewSubmissionGuard(core.SubmissionGuardConfig{
		Answers:       app.Answers,
		Tasks:         app.Tasks,
		Alerter:       &alerterAdapter{notifier: app.Notifier},
		Events:        events,
		DefaultStatus: globalCfg.Submission.DefaultStatus,
	})
	app.WorkspaceInit = core.NewWorkspaceInitializer()

	cli.BasePath = basePath
	cli.Store = app.Store
	cli.Agenda = app.Agenda
	cli.Resolver = app.Resolver
	cli.Guard = app.Guard
	cli.TaskSvc = app.Tasks
	cli.WorkspaceInit = app.WorkspaceInit

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Close releases resources held by the App.
func (a *App) Close() error {
	if a.Guard != nil {
		a.Guard.Release()
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the QuestSync base directory. It checks the
// QSYNC_HOME environment variable first, then walks up from the current
// directory looking for .qsyncconfig, and falls back to the current
// directory.
func ResolveBasePath() string {
	if home := os.Getenv("QSYNC_HOME"); home != "" {
		if expanded, err := homedir.Expand(home); err == nil {
			return expanded
		}
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if hasConfigFile(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

func hasConfigFile(dir string) bool {
	for _, name := range []string{core.ConfigFileName, core.ConfigFileName + ".yaml", core.ConfigFileName + ".yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// --- Adapters ---
// These bridge the replica store to the narrow interfaces core defines
// locally, so core never imports storage.

// answerServiceAdapter stores each answer as a TaskAnswer record.
type answerServiceAdapter struct {
	store storage.ReplicaStore
}

func (a *answerServiceAdapter) CreateAnswer(ctx context.Context, in models.AnswerInput) (models.Record, error) {
	r, err := a.store.Save(ctx, in.ToRecord())
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	return r, nil
}

// errTaskDeleted is returned when a submission targets a tombstoned task.
var errTaskDeleted = errors.New("task has been deleted")

// taskServiceAdapter applies a TaskPatch to the stored Task record.
type taskServiceAdapter struct {
	store storage.ReplicaStore
}

func (a *taskServiceAdapter) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Record, error) {
	r, err := a.store.Get(ctx, models.KindTask, id)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	if r.IsTombstoned() {
		return models.Record{}, fmt.Errorf("%w: task %s: %w", core.ErrPersistence, id, errTaskDeleted)
	}

	if patch.Status != "" {
		r.Set(models.FieldStatus, string(patch.Status))
	}
	if len(patch.ActivityResponse) > 0 {
		var v any
		if err := json.Unmarshal(patch.ActivityResponse, &v); err != nil {
			// Answers were encoded by the guard; at this stage the payload
			// failed to land on the task.
			return models.Record{}, fmt.Errorf("%w: activity response: %w", core.ErrPersistence, err)
		}
		r.Set(models.FieldActivityResponse, v)
	}

	saved, err := a.store.Save(ctx, r)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	return saved, nil
}

// alerterAdapter prints submission alerts to stderr and forwards them to the
// configured notifier.
type alerterAdapter struct {
	notifier observability.Notifier
	out      *os.File
	now      func() time.Time
}

func (a *alerterAdapter) Alert(ctx context.Context, title, message string) {
	out := a.out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "%s: %s\n", title, message)

	if a.notifier == nil {
		return
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	alert := observability.Alert{
		ID:          fmt.Sprintf("submission-%d", now().UnixNano()),
		Condition:   "submission_failed",
		Severity:    observability.SeverityHigh,
		Message:     title + ": " + message,
		TriggeredAt: now().UTC(),
	}
	if err := a.notifier.Notify(ctx, []observability.Alert{alert}); err != nil {
		fmt.Fprintf(out, "Warning: sending notification: %v\n", err)
	}
}
