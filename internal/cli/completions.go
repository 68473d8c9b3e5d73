package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/pkg/models"
)

// completeTaskIDs returns a completion function that lists visible task IDs,
// optionally filtered to exclude certain statuses.
func completeTaskIDs(excludeStatuses ...models.TaskStatus) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if Store == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		records, err := Store.Query(context.Background(), models.KindTask)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		exclude := make(map[models.TaskStatus]bool)
		for _, s := range excludeStatuses {
			exclude[s] = true
		}

		var ids []string
		for _, r := range core.FilterVisible(records) {
			t, err := models.TaskFromRecord(r)
			if err != nil || exclude[t.Status] {
				continue
			}
			if toComplete == "" || strings.HasPrefix(r.ID, toComplete) {
				ids = append(ids, r.ID+"\t"+string(t.Type)+": "+t.Title)
			}
		}

		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeStatuses returns a completion function for task status values.
func completeStatuses(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"OPEN\tNot yet visible to the user",
		"VISIBLE\tShown, not started",
		"STARTED\tOpened by the user",
		"INPROGRESS\tPartially answered",
		"COMPLETED\tSubmitted",
		"EXPIRED\tPast its window",
		"RECALLED\tWithdrawn",
	}, cobra.ShellCompDirectiveNoFileComp
}

// completeTaskIDsThenStatuses completes a task ID first and a status second.
func completeTaskIDsThenStatuses(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return completeTaskIDs()(cmd, args, toComplete)
	case 1:
		return completeStatuses(cmd, args, toComplete)
	default:
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeTaskIDThenFile completes a task ID first and falls back to file
// completion for the remaining arguments.
func completeTaskIDThenFile(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return completeTaskIDs(models.StatusCompleted, models.StatusExpired)(cmd, args, toComplete)
	}
	return nil, cobra.ShellCompDirectiveDefault
}

// completeOperations returns the conflict operation names.
func completeOperations(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(core.OpCreate),
		string(core.OpUpdate),
		string(core.OpDelete),
	}, cobra.ShellCompDirectiveNoFileComp
}

// completeKinds returns the known entity kinds.
func completeKinds(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(models.KindTask),
		string(models.KindTaskAnswer),
		string(models.KindQuestion),
		string(models.KindActivity),
		string(models.KindDataPoint),
	}, cobra.ShellCompDirectiveNoFileComp
}

// registerResolveCompletions registers flag completion functions on the
// resolve command.
func registerResolveCompletions(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("kind", completeKinds)
	_ = cmd.RegisterFlagCompletionFunc("op", completeOperations)
}
