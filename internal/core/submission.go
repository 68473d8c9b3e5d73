package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// SubmissionState is the state of a SubmissionGuard.
type SubmissionState int32

const (
	SubmissionIdle SubmissionState = iota
	SubmissionSubmitting
)

func (s SubmissionState) String() string {
	switch s {
	case SubmissionIdle:
		return "idle"
	case SubmissionSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("SubmissionState(%d)", int32(s))
	}
}

var (
	// ErrSerialization marks a submission aborted because an answer payload
	// could not be encoded for transport.
	ErrSerialization = errors.New("answer serialization failed")
	// ErrPersistence marks a submission aborted because saving an answer or
	// updating the task was rejected.
	ErrPersistence = errors.New("answer persistence failed")
)

// SubmissionStage names the pipeline step a submission failed in.
type SubmissionStage string

const (
	StageSerialize  SubmissionStage = "serialize"
	StageSaveAnswer SubmissionStage = "save_answer"
	StageUpdateTask SubmissionStage = "update_task"
	StageComplete   SubmissionStage = "complete"
)

// SubmissionError reports where and why a submission attempt failed.
type SubmissionError struct {
	Stage  SubmissionStage
	TaskID string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting task %s: %s: %v", e.TaskID, e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is classifies the error by stage so callers can match ErrSerialization or
// ErrPersistence with errors.Is.
func (e *SubmissionError) Is(target error) bool {
	switch target {
	case ErrSerialization:
		return e.Stage == StageSerialize
	case ErrPersistence:
		return e.Stage == StageSaveAnswer || e.Stage == StageUpdateTask
	}
	return false
}

// IsRecoverable reports whether err aborted a submission in a way the user
// can retry: nothing was lost beyond the current attempt.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSerialization) || errors.Is(err, ErrPersistence)
}

// Answer is one user answer before serialization. Value may be a string,
// number, bool, json.RawMessage or any JSON-encodable composite.
type Answer struct {
	QuestionID string `json:"question_id" yaml:"question_id" validate:"required"`
	Value      any    `json:"value" yaml:"value"`
}

// SubmitRequest is one logical submit action.
type SubmitRequest struct {
	TaskID           string
	Answers          []Answer
	Status           models.TaskStatus
	ActivityResponse any
}

// SubmitOutcome summarises what a Submit call did.
type SubmitOutcome string

const (
	OutcomeSubmitted SubmitOutcome = "submitted"
	OutcomeBusy      SubmitOutcome = "busy"
	OutcomeFailed    SubmitOutcome = "failed"
)

// SubmitResult is returned by every Submit call.
type SubmitResult struct {
	Outcome SubmitOutcome
	Saved   int
	Skipped int
	Task    models.Record
	Err     error
}

// SubmissionGuardConfig wires a SubmissionGuard to its collaborators.
// Alerter, Events and OnSuccess are optional.
type SubmissionGuardConfig struct {
	Answers       AnswerService
	Tasks         TaskService
	Alerter       Alerter
	Events        EventLogger
	OnSuccess     func(ctx context.Context, task models.Record) error
	DefaultStatus models.TaskStatus
	NewID         func() string
	Now           func() time.Time
}

// SubmissionGuard serializes a save-answers, update-task, navigate sequence
// so that concurrent invocations collapse into one in-flight attempt.
type SubmissionGuard struct {
	state    atomic.Int32
	released atomic.Bool
	cfg      SubmissionGuardConfig
}

// NewSubmissionGuard creates an idle guard.
func NewSubmissionGuard(cfg SubmissionGuardConfig) *SubmissionGuard {
	if cfg.DefaultStatus == "" {
		cfg.DefaultStatus = models.StatusCompleted
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SubmissionGuard{cfg: cfg}
}

// State returns the current guard state.
func (g *SubmissionGuard) State() SubmissionState {
	return SubmissionState(g.state.Load())
}

// Release marks the owning flow as gone. An attempt still in flight
// completes, but its alerts and success callback are suppressed.
func (g *SubmissionGuard) Release() {
	g.released.Store(true)
}

// Submit runs one guarded attempt. A call made while another attempt is in
// flight returns OutcomeBusy without side effects. Submit never panics and
// always returns the guard to idle.
func (g *SubmissionGuard) Submit(ctx context.Context, req SubmitRequest) (result SubmitResult) {
	if !g.state.CompareAndSwap(int32(SubmissionIdle), int32(SubmissionSubmitting)) {
		return SubmitResult{Outcome: OutcomeBusy}
	}
	defer g.state.Store(int32(SubmissionIdle))

	stage := StageSerialize
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	logEvent(g.cfg.Events, "submission.started", map[string]any{
		"task_id": req.TaskID,
		"answers": len(req.Answers),
	})

	encoded, skipped, err := encodeAnswers(req.Answers)
	result.Skipped = skipped
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: err})
		return result
	}

	var response json.RawMessage
	if req.ActivityResponse != nil {
		response, err = encodeComposite(req.ActivityResponse)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: fmt.Errorf("activity response: %w", err)})
			return result
		}
	}

	stage = StageSaveAnswer
	for _, a := range encoded {
		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: err})
			return result
		}
		_, err := g.cfg.Answers.CreateAnswer(ctx, models.AnswerInput{
			ID:         g.cfg.NewID(),
			TaskID:     req.TaskID,
			QuestionID: a.QuestionID,
			Answer:     a.Value,
			CreatedAt:  g.cfg.Now().UTC(),
		})
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: fmt.Errorf("question %s: %w", a.QuestionID, err)})
			return result
		}
		result.Saved++
	}

	stage = StageUpdateTask
	status := req.Status
	if status == "" {
		status = g.cfg.DefaultStatus
	}
	task, err := g.cfg.Tasks.UpdateTask(ctx, req.TaskID, models.TaskPatch{
		Status:           status,
		ActivityResponse: response,
	})
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: err})
		return result
	}
	result.Task = task
	result.Outcome = OutcomeSubmitted

	logEvent(g.cfg.Events, "submission.succeeded", map[string]any{
		"task_id": req.TaskID,
		"saved":   result.Saved,
		"skipped": result.Skipped,
		"status":  string(status),
	})

	stage = StageComplete
	if err := g.complete(ctx, task); err != nil {
		result.Err = g.fail(ctx, &SubmissionError{Stage: stage, TaskID: req.TaskID, Err: err})
	}
	return result
}

// complete runs the success callback, converting a panic into an error.
func (g *SubmissionGuard) complete(ctx context.Context, task models.Record) (err error) {
	if g.cfg.OnSuccess == nil || g.released.Load() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return g.cfg.OnSuccess(ctx, task)
}

// fail reports a failed attempt through the event log and the alerter and
// returns err for the result. A panicking reporter is swallowed so the
// failure still reaches the caller.
func (g *SubmissionGuard) fail(ctx context.Context, err *SubmissionError) error {
	func() {
		defer func() { _ = recover() }()
		logEvent(g.cfg.Events, "submission.failed", map[string]any{
			"task_id": err.TaskID,
			"stage":   string(err.Stage),
			"error":   err.Err.Error(),
		})
	}()
	if g.cfg.Alerter != nil && !g.released.Load() {
		func() {
			defer func() { _ = recover() }()
			g.cfg.Alerter.Alert(ctx, alertTitle(err.Stage), err.Error())
		}()
	}
	return err
}

func alertTitle(stage SubmissionStage) string {
	switch stage {
	case StageSerialize:
		return "Your answers could not be prepared"
	case StageComplete:
		return "Answers saved, but the next step failed"
	default:
		return "Your answers could not be saved"
	}
}

type encodedAnswer struct {
	QuestionID string
	Value      string
}

// encodeAnswers drops nil and empty answers and encodes the rest as
// strings. Composite values are JSON encoded.
func encodeAnswers(answers []Answer) ([]encodedAnswer, int, error) {
	out := make([]encodedAnswer, 0, len(answers))
	skipped := 0
	for _, a := range answers {
		if isBlankAnswer(a.Value) {
			skipped++
			continue
		}
		if s, ok := a.Value.(string); ok {
			out = append(out, encodedAnswer{QuestionID: a.QuestionID, Value: s})
			continue
		}
		data, err := encodeComposite(a.Value)
		if err != nil {
			return nil, skipped, fmt.Errorf("question %s: %w", a.QuestionID, err)
		}
		out = append(out, encodedAnswer{QuestionID: a.QuestionID, Value: string(data)})
	}
	return out, skipped, nil
}

func encodeComposite(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid JSON payload")
		}
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isBlankAnswer(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case json.RawMessage:
		return len(val) == 0 || string(val) == "null"
	}
	return false
}
