package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/internal/storage"
	"github.com/valter-silva-au/questsync/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and update tasks in the local replica",
	Long: `Task commands operate on the local replica. Changes are marked pending and
are uploaded on the next sync.`,
}

var taskListAll bool

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List every task in the replica. Deleted tasks are hidden unless --all is
given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("replica store not initialized")
		}
		records, err := Store.Query(commandContext(cmd), models.KindTask)
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		if !taskListAll {
			records = core.FilterVisible(records)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}

		sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.MaxColWidth = 60
		tbl.AddRow("ID", "TYPE", "STATUS", "VER", "TITLE")
		for _, r := range records {
			t, err := models.TaskFromRecord(r)
			if err != nil {
				tbl.AddRow(r.ID, "", "", r.Version, "(undecodable)")
				continue
			}
			title := t.Title
			if r.Pending {
				title += " *"
			}
			if r.IsTombstoned() {
				title += " (deleted)"
			}
			tbl.AddRow(r.ID, t.Type, t.Status, r.Version, title)
		}
		fmt.Fprintln(out, tbl)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:               "show <task-id>",
	Short:             "Print a task record as JSON",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeTaskIDs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("replica store not initialized")
		}
		r, err := Store.Get(commandContext(cmd), models.KindTask, args[0])
		if err != nil {
			return taskLookupError(args[0], err)
		}
		return writeJSON(cmd.OutOrStdout(), r)
	},
}

var taskStartCmd = &cobra.Command{
	Use:               "start <task-id>",
	Short:             "Mark a task as started",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeTaskIDs(models.StatusCompleted, models.StatusExpired),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskStatus(cmd, args[0], models.StatusStarted)
	},
}

var taskStatusCmd = &cobra.Command{
	Use:               "status <task-id> <status>",
	Short:             "Set the status of a task",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeTaskIDsThenStatuses,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.TaskStatus(args[1])
		if !models.IsValidStatus(status) {
			return fmt.Errorf("invalid status %q", args[1])
		}
		return setTaskStatus(cmd, args[0], status)
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:               "delete <task-id>",
	Short:             "Delete a task locally",
	Long:              `Mark a task as deleted. The tombstone is kept and uploaded on the next sync.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeTaskIDs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("replica store not initialized")
		}
		ctx := commandContext(cmd)
		r, err := Store.Get(ctx, models.KindTask, args[0])
		if err != nil {
			return taskLookupError(args[0], err)
		}
		if err := Store.Delete(ctx, r); err != nil {
			return fmt.Errorf("deleting task %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
		return nil
	},
}

func setTaskStatus(cmd *cobra.Command, id string, status models.TaskStatus) error {
	if TaskSvc == nil {
		return fmt.Errorf("task service not initialized")
	}
	r, err := TaskSvc.UpdateTask(commandContext(cmd), id, models.TaskPatch{Status: status})
	if err != nil {
		return taskLookupError(id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s (v%d)\n", id, status, r.Version)
	return nil
}

func taskLookupError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("task %s not found", id)
	}
	return fmt.Errorf("task %s: %w", id, err)
}

func init() {
	taskListCmd.Flags().BoolVar(&taskListAll, "all", false, "Include deleted tasks")
	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskStartCmd, taskStatusCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
