// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the qsync agenda, conflict resolver and answer submission as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/observability"
	"github.com/valter-silva-au/questsync/pkg/models"
)

// Submitter runs one guarded answer submission.
type Submitter interface {
	Submit(ctx context.Context, req core.SubmitRequest) core.SubmitResult
}

// Deps are the services the server exposes. MetricsCalc and AlertEngine
// may be nil if observability is disabled.
type Deps struct {
	Agenda      core.AgendaService
	Resolver    core.ConflictResolver
	Submitter   Submitter
	MetricsCalc observability.MetricsCalculator
	AlertEngine observability.AlertEngine
	Now         func() time.Time
}

// Server wraps qsync services and exposes them as MCP tools.
type Server struct {
	server *gomcp.Server
	deps   Deps
}

// NewServer creates a new MCP server with the given service dependencies.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Resolver == nil {
		deps.Resolver = core.NewConflictResolver(nil)
	}

	s := &Server{deps: deps}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "qsync", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type getAgendaInput struct {
	At string `json:"at,omitempty" jsonschema:"instant to build the agenda for, RFC 3339. Defaults to now."`
}

type taskSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Type       string `json:"type,omitempty"`
	Status     string `json:"status,omitempty"`
	ExpireTime string `json:"expire_time,omitempty"`
}

type timeGroupOutput struct {
	Time  string        `json:"time"`
	Tasks []taskSummary `json:"tasks"`
}

type dayOutput struct {
	Label            string            `json:"label"`
	Date             string            `json:"date"`
	TasksWithoutTime []taskSummary     `json:"tasks_without_time"`
	TimeGroups       []timeGroupOutput `json:"time_groups"`
}

type agendaOutput struct {
	GeneratedAt string        `json:"generated_at"`
	Days        []dayOutput   `json:"days"`
	Episodic    []taskSummary `json:"episodic"`
	Skipped     int           `json:"skipped"`
}

type recordInput struct {
	ID      string         `json:"id,omitempty" jsonschema:"record identifier"`
	Version int            `json:"version,omitempty" jsonschema:"sync version of the copy"`
	Deleted bool           `json:"deleted,omitempty" jsonschema:"whether the copy is tombstoned"`
	Fields  map[string]any `json:"fields,omitempty" jsonschema:"entity attributes"`
}

type resolveConflictInput struct {
	Kind      string      `json:"kind" jsonschema:"entity kind, e.g. Task, Question, Activity"`
	Operation string      `json:"operation" jsonschema:"remote operation: CREATE, UPDATE or DELETE"`
	Local     recordInput `json:"local" jsonschema:"the local copy"`
	Remote    recordInput `json:"remote" jsonschema:"the copy received from the backend"`
}

type resolveConflictOutput struct {
	Policy  string         `json:"policy"`
	ID      string         `json:"id,omitempty"`
	Version int            `json:"version"`
	Deleted bool           `json:"deleted"`
	Fields  map[string]any `json:"fields"`
}

type answerInput struct {
	QuestionID string `json:"question_id" jsonschema:"question the answer belongs to"`
	Value      any    `json:"value,omitempty" jsonschema:"answer value; strings are stored as-is, anything else JSON encoded"`
}

type submitAnswersInput struct {
	TaskID  string        `json:"task_id" jsonschema:"the task being answered"`
	Answers []answerInput `json:"answers" jsonschema:"answers to save; empty values are skipped"`
	Status  string        `json:"status,omitempty" jsonschema:"task status after submission. Defaults to the configured status."`
}

type submitAnswersOutput struct {
	Outcome string `json:"outcome"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
	Status  string `json:"status,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
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
	OldestEvent          string         `json:"oldest_event,omitempty"`
	NewestEvent          string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_agenda",
		Description: "Get the task agenda grouped into Today, Tomorrow and later days, with time-of-day groups and the currently visible episodic tasks.",
	}, s.handleGetAgenda)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "resolve_conflict",
		Description: "Resolve a local/remote version conflict for one record and return the surviving version and the policy applied.",
	}, s.handleResolveConflict)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "submit_answers",
		Description: "Save answers for a task and mark it submitted. Concurrent submissions for the same flow are collapsed into one.",
	}, s.handleSubmitAnswers)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log: conflicts by policy, remote applications, local saves and submission outcomes.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (repeated submission failures, conflict spikes, resolver fallbacks).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleGetAgenda(ctx context.Context, _ *gomcp.CallToolRequest, input getAgendaInput) (*gomcp.CallToolResult, agendaOutput, error) {
	if s.deps.Agenda == nil {
		return errorResult("agenda service not available"), agendaOutput{}, nil
	}

	now := s.deps.Now()
	if input.At != "" {
		at, err := time.Parse(time.RFC3339, input.At)
		if err != nil {
			return errorResult(fmt.Sprintf("parsing at: %s", err)), agendaOutput{}, nil
		}
		now = at
	}

	agenda, err := s.deps.Agenda.Build(ctx, now)
	if err != nil {
		return errorResult(fmt.Sprintf("building agenda: %s", err)), agendaOutput{}, nil
	}

	return nil, agendaToOutput(agenda), nil
}

func (s *Server) handleResolveConflict(_ context.Context, _ *gomcp.CallToolRequest, input resolveConflictInput) (*gomcp.CallToolResult, resolveConflictOutput, error) {
	if input.Kind == "" {
		return errorResult("kind is required"), resolveConflictOutput{}, nil
	}
	op, ok := core.ParseOperation(input.Operation)
	if !ok {
		return errorResult(fmt.Sprintf("invalid operation %q: must be one of CREATE, UPDATE, DELETE", input.Operation)), resolveConflictOutput{}, nil
	}

	kind := models.EntityKind(input.Kind)
	local := input.Local.toRecord(kind)
	remote := input.Remote.toRecord(kind)

	policy := s.deps.Resolver.Policy(kind, local, remote, op)
	got := s.deps.Resolver.Resolve(kind, local, remote, op)

	fields := got.Fields
	if fields == nil {
		fields = make(map[string]any)
	}
	out := resolveConflictOutput{
		Policy:  string(policy),
		ID:      got.ID,
		Version: got.Version,
		Deleted: got.IsTombstoned(),
		Fields:  fields,
	}
	return nil, out, nil
}

func (s *Server) handleSubmitAnswers(ctx context.Context, _ *gomcp.CallToolRequest, input submitAnswersInput) (*gomcp.CallToolResult, submitAnswersOutput, error) {
	if s.deps.Submitter == nil {
		return errorResult("submission is not available"), submitAnswersOutput{}, nil
	}
	if input.TaskID == "" {
		return errorResult("task_id is required"), submitAnswersOutput{}, nil
	}

	req := core.SubmitRequest{
		TaskID:  input.TaskID,
		Answers: make([]core.Answer, len(input.Answers)),
		Status:  models.TaskStatus(input.Status),
	}
	for i, a := range input.Answers {
		req.Answers[i] = core.Answer{QuestionID: a.QuestionID, Value: a.Value}
	}

	res := s.deps.Submitter.Submit(ctx, req)
	switch res.Outcome {
	case core.OutcomeBusy:
		return errorResult("a submission is already in progress"), submitAnswersOutput{Outcome: string(res.Outcome)}, nil
	case core.OutcomeFailed:
		return errorResult(fmt.Sprintf("submitting answers: %s", res.Err)), submitAnswersOutput{Outcome: string(res.Outcome), Saved: res.Saved, Skipped: res.Skipped}, nil
	}

	out := submitAnswersOutput{
		Outcome: string(res.Outcome),
		Saved:   res.Saved,
		Skipped: res.Skipped,
	}
	if status, ok := res.Task.Fields[models.FieldStatus].(string); ok {
		out.Status = status
	}
	if res.Err != nil {
		out.Warning = res.Err.Error()
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.deps.MetricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr, s.deps.Now())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.deps.MetricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		ConflictsResolved:    metrics.ConflictsResolved,
		ConflictsByPolicy:    metrics.ConflictsByPolicy,
		ConflictsByKind:      metrics.ConflictsByKind,
		RemoteApplied:        metrics.RemoteApplied,
		RecordsSaved:         metrics.RecordsSaved,
		RecordsDeleted:       metrics.RecordsDeleted,
		SubmissionsStarted:   metrics.SubmissionsStarted,
		SubmissionsSucceeded: metrics.SubmissionsSucceeded,
		SubmissionsFailed:    metrics.SubmissionsFailed,
		FailuresByStage:      metrics.FailuresByStage,
		EventCount:           metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.deps.AlertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.deps.AlertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func (r recordInput) toRecord(kind models.EntityKind) models.Record {
	return models.Record{
		Kind:    kind,
		ID:      r.ID,
		Version: r.Version,
		Deleted: r.Deleted,
		Fields:  r.Fields,
	}
}

func agendaToOutput(a *core.Agenda) agendaOutput {
	out := agendaOutput{
		GeneratedAt: a.GeneratedAt.Format(time.RFC3339),
		Days:        make([]dayOutput, len(a.Days)),
		Episodic:    summarize(a.Episodic),
		Skipped:     a.Skipped,
	}
	for i, d := range a.Days {
		day := dayOutput{
			Label:            d.DayLabel,
			Date:             d.DayDate.Format("2006-01-02"),
			TasksWithoutTime: summarize(d.TasksWithoutTime),
			TimeGroups:       make([]timeGroupOutput, len(d.TimeGroups)),
		}
		for j, g := range d.TimeGroups {
			day.TimeGroups[j] = timeGroupOutput{Time: g.Time, Tasks: summarize(g.Tasks)}
		}
		out.Days[i] = day
	}
	return out
}

func summarize(tasks []models.Task) []taskSummary {
	out := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = taskSummary{
			ID:     t.ID,
			Title:  t.Title,
			Type:   string(t.Type),
			Status: string(t.Status),
		}
		if exp, ok := t.ExpireTime(); ok {
			out[i].ExpireTime = exp.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		ConflictsByPolicy: make(map[string]int),
		ConflictsByKind:   make(map[string]int),
		FailuresByStage:   make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	now = now.UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
