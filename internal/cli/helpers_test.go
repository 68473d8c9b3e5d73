package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/storage"
	"github.com/valter-silva-au/questsync/pkg/models"
)

// useTestStore points the package services at a fresh replica in a temp dir.
func useTestStore(t *testing.T) storage.ReplicaStore {
	t.Helper()
	origStore, origAgenda, origResolver, origGuard, origTaskSvc := Store, Agenda, Resolver, Guard, TaskSvc
	t.Cleanup(func() {
		Store, Agenda, Resolver, Guard, TaskSvc = origStore, origAgenda, origResolver, origGuard, origTaskSvc
	})

	store, err := storage.NewReplicaStore(storage.Options{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewReplicaStore: %v", err)
	}
	Resolver = core.NewConflictResolver(nil)
	store.SetConflictHandler(core.HandlerFor(Resolver))
	Store = store
	Agenda = core.NewAgendaService(store, core.BucketOptions{Location: time.UTC}, "en")
	TaskSvc = storeTasks{store}
	Guard = core.NewSubmissionGuard(core.SubmissionGuardConfig{
		Answers: storeAnswers{store},
		Tasks:   storeTasks{store},
	})
	return store
}

type storeAnswers struct{ store storage.ReplicaStore }

func (s storeAnswers) CreateAnswer(ctx context.Context, in models.AnswerInput) (models.Record, error) {
	return s.store.Save(ctx, in.ToRecord())
}

type storeTasks struct{ store storage.ReplicaStore }

func (s storeTasks) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Record, error) {
	r, err := s.store.Get(ctx, models.KindTask, id)
	if err != nil {
		return models.Record{}, err
	}
	if r.IsTombstoned() {
		return models.Record{}, errors.New("task deleted")
	}
	if patch.Status != "" {
		r.Set(models.FieldStatus, string(patch.Status))
	}
	return s.store.Save(ctx, r)
}

func seedTask(t *testing.T, store storage.ReplicaStore, id string, fields map[string]any) models.Record {
	t.Helper()
	r, err := store.Save(context.Background(), models.Record{Kind: models.KindTask, ID: id, Fields: fields})
	if err != nil {
		t.Fatalf("seeding %s: %v", id, err)
	}
	return r
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// runCmd runs cmd's RunE with captured output.
func runCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetIn(nil)
	})
	err := cmd.RunE(cmd, args)
	return out.String(), errOut.String(), err
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func millis(ts time.Time) float64 {
	return float64(ts.UnixMilli())
}

func fieldString(r models.Record, key string) string {
	return fmt.Sprint(r.Fields[key])
}
