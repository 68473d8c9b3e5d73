package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/pkg/models"
)

var ingestDryRun bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Apply a batch of remote changes to the local replica",
	Long: `Apply remote mutations to the local replica as if they had arrived from the
backend. The file holds a list of changes, each with an op (CREATE, UPDATE or
DELETE) and a record. Records that diverge from pending local edits go
through the conflict resolver.

Use "-" to read the batch from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("replica store not initialized")
		}

		var changes []models.RemoteChange
		if err := readDocument(args[0], cmd.InOrStdin(), &changes); err != nil {
			return err
		}

		ops := make([]core.Operation, len(changes))
		for i, c := range changes {
			op, ok := core.ParseOperation(c.Operation)
			if !ok {
				return fmt.Errorf("change %d (%s %s): invalid op %q", i+1, c.Record.Kind, c.Record.ID, c.Operation)
			}
			if err := validate.Struct(c); err != nil {
				return fmt.Errorf("change %d: record needs a valid kind and id (check %s)", i+1, missingFields(err))
			}
			ops[i] = op
		}

		out := cmd.OutOrStdout()
		if ingestDryRun {
			fmt.Fprintf(out, "%d change(s) valid, nothing applied.\n", len(changes))
			return nil
		}

		ctx := commandContext(cmd)
		pending := 0
		for i, c := range changes {
			result, err := Store.ApplyRemote(ctx, c.Record, ops[i])
			if err != nil {
				return fmt.Errorf("applying change %d of %d: %w", i+1, len(changes), err)
			}
			state := "applied"
			if result.Pending {
				pending++
				state = "merged, pending upload"
			}
			fmt.Fprintf(out, "  %-6s %s/%s v%d %s\n", ops[i], result.Kind, result.ID, result.Version, state)
		}

		fmt.Fprintf(out, "Applied %d change(s)", len(changes))
		if pending > 0 {
			fmt.Fprintf(out, ", %d kept local edits", pending)
		}
		fmt.Fprintln(out, ".")
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Validate the batch without applying it")
	rootCmd.AddCommand(ingestCmd)
}
