package cli

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestCompleteTaskIDs_NilStore(t *testing.T) {
	orig := Store
	defer func() { Store = orig }()
	Store = nil

	ids, directive := completeTaskIDs()(&cobra.Command{}, nil, "")
	if ids != nil {
		t.Errorf("expected nil ids, got %v", ids)
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected NoFileComp directive, got %d", directive)
	}
}

func TestCompleteTaskIDs_FiltersAndPrefixes(t *testing.T) {
	store := useTestStore(t)
	seedTask(t, store, "survey-1", map[string]any{"title": "Morning", "taskType": "SCHEDULED", "status": "OPEN"})
	seedTask(t, store, "survey-2", map[string]any{"title": "Evening", "taskType": "SCHEDULED", "status": "COMPLETED"})
	seedTask(t, store, "walk", map[string]any{"title": "Walk", "taskType": "EPISODIC"})

	ids, _ := completeTaskIDs()(&cobra.Command{}, nil, "survey")
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want both surveys", ids)
	}
	if ids[0] != "survey-1\tSCHEDULED: Morning" {
		t.Errorf("ids[0] = %q", ids[0])
	}

	ids, _ = completeTaskIDThenFile(&cobra.Command{}, nil, "")
	for _, id := range ids {
		if strings.HasPrefix(id, "survey-2") {
			t.Errorf("completed task offered for submit: %v", ids)
		}
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want survey-1 and walk", ids)
	}
}

func TestCompleteTaskIDThenFile_SecondArg(t *testing.T) {
	ids, directive := completeTaskIDThenFile(&cobra.Command{}, []string{"t1"}, "")
	if ids != nil || directive != cobra.ShellCompDirectiveDefault {
		t.Errorf("got %v, %d; want file completion", ids, directive)
	}
}

func TestCompleteTaskIDsThenStatuses(t *testing.T) {
	useTestStore(t)

	statuses, _ := completeTaskIDsThenStatuses(&cobra.Command{}, []string{"t1"}, "")
	if len(statuses) != 7 || !strings.HasPrefix(statuses[0], "OPEN\t") {
		t.Errorf("statuses = %v", statuses)
	}
	extra, directive := completeTaskIDsThenStatuses(&cobra.Command{}, []string{"t1", "OPEN"}, "")
	if extra != nil || directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("third argument completions = %v", extra)
	}
}

func TestCompleteStaticValues(t *testing.T) {
	ops, _ := completeOperations(&cobra.Command{}, nil, "")
	if strings.Join(ops, ",") != "CREATE,UPDATE,DELETE" {
		t.Errorf("operations = %v", ops)
	}
	kinds, _ := completeKinds(&cobra.Command{}, nil, "")
	if len(kinds) != 5 || kinds[0] != "Task" {
		t.Errorf("kinds = %v", kinds)
	}
}
