package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/pkg/models"
)

var submitStatus string

// answersDocument is the on-disk form of one questionnaire submission.
// A bare list of answers is also accepted.
type answersDocument struct {
	Status           string        `json:"status" yaml:"status"`
	Answers          []core.Answer `json:"answers" yaml:"answers" validate:"dive"`
	ActivityResponse any           `json:"activity_response" yaml:"activity_response"`
}

var submitCmd = &cobra.Command{
	Use:   "submit <task-id> <answers-file>",
	Short: "Submit questionnaire answers for a task",
	Long: `Save each answer as a TaskAnswer record and move the task to its submitted
status (COMPLETED unless --status or the file says otherwise).

The answers file is JSON or YAML: either a list of {question_id, value} or a
document with answers, status and activity_response. Empty answers are
skipped. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Guard == nil {
			return fmt.Errorf("submission guard not initialized")
		}
		taskID := args[0]

		doc, err := loadAnswers(args[1], cmd)
		if err != nil {
			return err
		}

		status := models.TaskStatus(doc.Status)
		if submitStatus != "" {
			status = models.TaskStatus(submitStatus)
		}
		if status != "" && !models.IsValidStatus(status) {
			return fmt.Errorf("invalid status %q", status)
		}

		result := Guard.Submit(commandContext(cmd), core.SubmitRequest{
			TaskID:           taskID,
			Answers:          doc.Answers,
			Status:           status,
			ActivityResponse: doc.ActivityResponse,
		})

		out := cmd.OutOrStdout()
		switch result.Outcome {
		case core.OutcomeBusy:
			return fmt.Errorf("a submission for this session is already in progress")
		case core.OutcomeFailed:
			return fmt.Errorf("submitting answers for %s: %w", taskID, result.Err)
		}

		fmt.Fprintf(out, "Submitted %d answer(s) for %s", result.Saved, taskID)
		if result.Skipped > 0 {
			fmt.Fprintf(out, " (%d empty skipped)", result.Skipped)
		}
		fmt.Fprintln(out, ".")
		if s, ok := result.Task.Fields[models.FieldStatus].(string); ok {
			fmt.Fprintf(out, "Task status: %s\n", s)
		}
		if result.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", result.Err)
		}
		return nil
	},
}

// loadAnswers reads an answers document, falling back to a bare list.
func loadAnswers(path string, cmd *cobra.Command) (answersDocument, error) {
	data, err := loadDocument(path, cmd.InOrStdin())
	if err != nil {
		return answersDocument{}, fmt.Errorf("loading answers: %w", err)
	}
	var doc answersDocument
	if err := decodeDocument(path, data, &doc); err != nil {
		var list []core.Answer
		if err := decodeDocument(path, data, &list); err != nil {
			return answersDocument{}, fmt.Errorf("loading answers: %w", err)
		}
		doc = answersDocument{Answers: list}
	}
	if err := validate.Struct(doc); err != nil {
		return answersDocument{}, fmt.Errorf("loading answers: missing %s", missingFields(err))
	}
	return doc, nil
}

func init() {
	submitCmd.Flags().StringVar(&submitStatus, "status", "", "Status to set on the task (default from config)")
	_ = submitCmd.RegisterFlagCompletionFunc("status", completeStatuses)
	submitCmd.ValidArgsFunction = completeTaskIDThenFile
	rootCmd.AddCommand(submitCmd)
}
