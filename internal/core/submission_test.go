package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/questsync/pkg/models"
	"pgregory.net/rapid"
)

type fakeAnswers struct {
	mu      sync.Mutex
	calls   []models.AnswerInput
	err     error
	panics  bool
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeAnswers) CreateAnswer(ctx context.Context, in models.AnswerInput) (models.Record, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Record{}, f.err
	}
	f.calls = append(f.calls, in)
	return in.ToRecord(), nil
}

func (f *fakeAnswers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTasks struct {
	mu      sync.Mutex
	patches []models.TaskPatch
	err     error
}

func (f *fakeTasks) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Record{}, f.err
	}
	f.patches = append(f.patches, patch)
	return models.Record{Kind: models.KindTask, ID: id, Fields: map[string]any{"status": string(patch.Status)}}, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeAlerter) Alert(ctx context.Context, title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

type guardFixture struct {
	answers *fakeAnswers
	tasks   *fakeTasks
	alerter *fakeAlerter
	events  *capturingLogger
	done    []models.Record
	guard   *SubmissionGuard
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	fx := &guardFixture{
		answers: &fakeAnswers{},
		tasks:   &fakeTasks{},
		alerter: &fakeAlerter{},
		events:  &capturingLogger{},
	}
	seq := 0
	fx.guard = NewSubmissionGuard(SubmissionGuardConfig{
		Answers: fx.answers,
		Tasks:   fx.tasks,
		Alerter: fx.alerter,
		Events:  fx.events,
		OnSuccess: func(ctx context.Context, task models.Record) error {
			fx.done = append(fx.done, task)
			return nil
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("ans-%d", seq)
		},
		Now: func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	return fx
}

func TestSubmit_Success(t *testing.T) {
	fx := newGuardFixture(t)

	res := fx.guard.Submit(context.Background(), SubmitRequest{
		TaskID: "t1",
		Answers: []Answer{
			{QuestionID: "q1", Value: "yes"},
			{QuestionID: "q2", Value: nil},
			{QuestionID: "q3", Value: ""},
			{QuestionID: "q4", Value: map[string]any{"a": 1}},
			{QuestionID: "q5", Value: json.RawMessage("null")},
			{QuestionID: "q6", Value: 7},
		},
		ActivityResponse: map[string]any{"mood": "good"},
	})

	if res.Outcome != OutcomeSubmitted || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Saved != 3 || res.Skipped != 3 {
		t.Errorf("saved=%d skipped=%d, want 3/3", res.Saved, res.Skipped)
	}
	want := []string{"yes", `{"a":1}`, "7"}
	for i, call := range fx.answers.calls {
		if call.Answer != want[i] {
			t.Errorf("answer %d = %q, want %q", i, call.Answer, want[i])
		}
		if call.TaskID != "t1" || call.ID != fmt.Sprintf("ans-%d", i+1) {
			t.Errorf("answer %d = %+v", i, call)
		}
	}
	if len(fx.tasks.patches) != 1 {
		t.Fatalf("task updates = %d, want 1", len(fx.tasks.patches))
	}
	patch := fx.tasks.patches[0]
	if patch.Status != models.StatusCompleted || string(patch.ActivityResponse) != `{"mood":"good"}` {
		t.Errorf("patch = %+v", patch)
	}
	if len(fx.done) != 1 || fx.done[0].ID != "t1" {
		t.Errorf("success callback = %+v", fx.done)
	}
	if fx.guard.State() != SubmissionIdle {
		t.Errorf("state = %s, want idle", fx.guard.State())
	}
	if fx.alerter.count() != 0 {
		t.Errorf("unexpected alerts: %v", fx.alerter.titles)
	}
	if strings.Join(fx.events.types, ",") != "submission.started,submission.succeeded" {
		t.Errorf("events = %v", fx.events.types)
	}
}

func TestSubmit_ExplicitStatus(t *testing.T) {
	fx := newGuardFixture(t)
	fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1", Status: models.StatusInProgress})
	if fx.tasks.patches[0].Status != models.StatusInProgress {
		t.Errorf("status = %s, want INPROGRESS", fx.tasks.patches[0].Status)
	}
}

func TestSubmit_ConcurrentCallsCollapse(t *testing.T) {
	fx := newGuardFixture(t)
	fx.answers.entered = make(chan struct{}, 1)
	fx.answers.block = make(chan struct{})

	req := SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "a"}}}
	first := make(chan SubmitResult, 1)
	go func() { first <- fx.guard.Submit(context.Background(), req) }()

	<-fx.answers.entered
	if fx.guard.State() != SubmissionSubmitting {
		t.Fatalf("state = %s, want submitting", fx.guard.State())
	}
	for i := 0; i < 3; i++ {
		if res := fx.guard.Submit(context.Background(), req); res.Outcome != OutcomeBusy {
			t.Errorf("concurrent submit outcome = %s, want busy", res.Outcome)
		}
	}
	close(fx.answers.block)

	if res := <-first; res.Outcome != OutcomeSubmitted {
		t.Fatalf("first submit = %+v", res)
	}
	if n := fx.answers.count(); n != 1 {
		t.Errorf("CreateAnswer calls = %d, want 1", n)
	}
	if len(fx.tasks.patches) != 1 {
		t.Errorf("UpdateTask calls = %d, want 1", len(fx.tasks.patches))
	}
	if fx.guard.State() != SubmissionIdle {
		t.Errorf("state = %s, want idle", fx.guard.State())
	}
}

func TestSubmit_SerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"channel answer", SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "ok"}, {QuestionID: "q2", Value: make(chan int)}}}},
		{"invalid raw answer", SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: json.RawMessage("{nope")}}}},
		{"bad activity response", SubmitRequest{TaskID: "t1", ActivityResponse: func() {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newGuardFixture(t)
			res := fx.guard.Submit(context.Background(), tt.req)

			if res.Outcome != OutcomeFailed {
				t.Fatalf("outcome = %s, want failed", res.Outcome)
			}
			if !errors.Is(res.Err, ErrSerialization) || errors.Is(res.Err, ErrPersistence) {
				t.Errorf("err = %v, want serialization", res.Err)
			}
			if !IsRecoverable(res.Err) {
				t.Error("serialization failures are recoverable")
			}
			if fx.answers.count() != 0 || len(fx.tasks.patches) != 0 {
				t.Error("nothing may be persisted after a serialization failure")
			}
			if len(fx.alerter.titles) != 1 || fx.alerter.titles[0] != "Your answers could not be prepared" {
				t.Errorf("alerts = %v", fx.alerter.titles)
			}
			if fx.guard.State() != SubmissionIdle {
				t.Errorf("state = %s, want idle", fx.guard.State())
			}
		})
	}
}

func TestSubmit_AnswerPersistenceFailure(t *testing.T) {
	fx := newGuardFixture(t)
	fx.answers.err = errors.New("disk full")

	res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "a"}}})

	var subErr *SubmissionError
	if !errors.As(res.Err, &subErr) || subErr.Stage != StageSaveAnswer {
		t.Fatalf("err = %v, want save_answer SubmissionError", res.Err)
	}
	if !errors.Is(res.Err, ErrPersistence) {
		t.Error("want ErrPersistence")
	}
	if !strings.Contains(res.Err.Error(), "disk full") {
		t.Errorf("err = %v, want cause in message", res.Err)
	}
	if len(fx.tasks.patches) != 0 {
		t.Error("task must not be updated after an answer failure")
	}
	if len(fx.done) != 0 {
		t.Error("success callback must not run")
	}
	if fx.alerter.count() != 1 {
		t.Errorf("alerts = %v, want 1", fx.alerter.titles)
	}
	last := fx.events.data[len(fx.events.data)-1]
	if fx.events.types[len(fx.events.types)-1] != "submission.failed" || last["stage"] != "save_answer" {
		t.Errorf("events = %v %v", fx.events.types, last)
	}
	if fx.guard.State() != SubmissionIdle {
		t.Errorf("state = %s, want idle", fx.guard.State())
	}
}

func TestSubmit_TaskUpdateFailure(t *testing.T) {
	fx := newGuardFixture(t)
	fx.tasks.err = errors.New("conflict")

	res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "a"}}})
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, ErrPersistence) {
		t.Fatalf("result = %+v", res)
	}
	if res.Saved != 1 {
		t.Errorf("saved = %d, want 1", res.Saved)
	}
}

func TestSubmit_RecoversFromPanic(t *testing.T) {
	fx := newGuardFixture(t)
	fx.answers.panics = true

	res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "a"}}})
	if res.Outcome != OutcomeFailed || !strings.Contains(res.Err.Error(), "store exploded") {
		t.Fatalf("result = %+v", res)
	}
	if fx.guard.State() != SubmissionIdle {
		t.Errorf("state = %s, want idle", fx.guard.State())
	}

	fx.answers.panics = false
	if res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1"}); res.Outcome != OutcomeSubmitted {
		t.Errorf("retry after panic = %+v", res)
	}
}

type panickingAlerter struct{ calls int }

func (p *panickingAlerter) Alert(ctx context.Context, title, message string) {
	p.calls++
	panic("notifier exploded")
}

func TestSubmit_AlerterPanicStillReturnsFailure(t *testing.T) {
	fx := newGuardFixture(t)
	fx.answers.err = errors.New("offline")
	alerter := &panickingAlerter{}
	fx.guard.cfg.Alerter = alerter

	var res SubmitResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Submit panicked: %v", r)
			}
		}()
		res = fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "a"}}})
	}()

	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if !errors.Is(res.Err, ErrPersistence) || !strings.Contains(res.Err.Error(), "offline") {
		t.Errorf("err = %v, want persistence failure with cause", res.Err)
	}
	if alerter.calls != 1 {
		t.Errorf("alerter calls = %d, want 1", alerter.calls)
	}
	if fx.guard.State() != SubmissionIdle {
		t.Errorf("state = %s, want idle", fx.guard.State())
	}
	if fx.events.types[len(fx.events.types)-1] != "submission.failed" {
		t.Errorf("events = %v, want submission.failed last", fx.events.types)
	}
}

func TestSubmit_OnSuccessFailureKeepsSubmitted(t *testing.T) {
	fx := newGuardFixture(t)
	fx.guard.cfg.OnSuccess = func(ctx context.Context, task models.Record) error {
		return errors.New("navigation failed")
	}

	res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1"})
	if res.Outcome != OutcomeSubmitted {
		t.Fatalf("outcome = %s, want submitted", res.Outcome)
	}
	if res.Err == nil || IsRecoverable(res.Err) {
		t.Errorf("err = %v, want non-recoverable completion error", res.Err)
	}
	if len(fx.alerter.titles) != 1 || fx.alerter.titles[0] != "Answers saved, but the next step failed" {
		t.Errorf("alerts = %v", fx.alerter.titles)
	}

	fx.guard.cfg.OnSuccess = func(ctx context.Context, task models.Record) error { panic("boom") }
	res = fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1"})
	if res.Outcome != OutcomeSubmitted || res.Err == nil {
		t.Errorf("panicking callback result = %+v", res)
	}
	if fx.guard.State() != SubmissionIdle {
		t.Errorf("state = %s, want idle", fx.guard.State())
	}
}

func TestSubmit_ReleasedSuppressesSideEffects(t *testing.T) {
	fx := newGuardFixture(t)
	fx.guard.Release()

	res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1"})
	if res.Outcome != OutcomeSubmitted {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if len(fx.done) != 0 {
		t.Error("success callback must not run after release")
	}

	fx.tasks.err = errors.New("offline")
	fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1"})
	if fx.alerter.count() != 0 {
		t.Errorf("alerts after release = %v", fx.alerter.titles)
	}
}

func TestSubmit_CancelledContext(t *testing.T) {
	fx := newGuardFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := fx.guard.Submit(ctx, SubmitRequest{TaskID: "t1", Answers: []Answer{{QuestionID: "q1", Value: "a"}}})
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("result = %+v", res)
	}
	if fx.answers.count() != 0 {
		t.Error("no answers may be written with a cancelled context")
	}
}

func TestSubmissionState_String(t *testing.T) {
	if SubmissionIdle.String() != "idle" || SubmissionSubmitting.String() != "submitting" {
		t.Error("unexpected state names")
	}
	if SubmissionState(9).String() != "SubmissionState(9)" {
		t.Errorf("unknown state = %s", SubmissionState(9))
	}
}

// Property: whatever mix of failures a submission hits, the guard ends idle
// and a failed attempt never reaches the task update.
func TestProperty_GuardAlwaysReturnsToIdle(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fx := newGuardFixture(t)
		mode := rapid.IntRange(0, 3).Draw(rt, "mode")
		switch mode {
		case 1:
			fx.answers.err = errors.New("write failed")
		case 2:
			fx.answers.panics = true
		case 3:
			fx.tasks.err = errors.New("update failed")
		}

		n := rapid.IntRange(0, 5).Draw(rt, "answers")
		answers := make([]Answer, n)
		for i := range answers {
			answers[i] = Answer{QuestionID: fmt.Sprintf("q%d", i), Value: rapid.SampledFrom([]string{"", "a", "b"}).Draw(rt, "value")}
		}

		res := fx.guard.Submit(context.Background(), SubmitRequest{TaskID: "t1", Answers: answers})
		if fx.guard.State() != SubmissionIdle {
			rt.Fatalf("state = %s after %+v", fx.guard.State(), res)
		}
		if res.Outcome == OutcomeFailed && len(fx.tasks.patches) != 0 {
			rt.Fatalf("failed attempt updated the task")
		}
		if res.Saved+res.Skipped > n {
			rt.Fatalf("saved %d + skipped %d exceeds %d answers", res.Saved, res.Skipped, n)
		}
	})
}
