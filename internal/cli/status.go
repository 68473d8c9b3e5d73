package cli

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/pkg/models"
)

var statusKinds = []models.EntityKind{
	models.KindTask,
	models.KindTaskAnswer,
	models.KindQuestion,
	models.KindActivity,
	models.KindDataPoint,
}

// kindStatus counts the records of one kind in the replica.
type kindStatus struct {
	Kind    models.EntityKind `json:"kind"`
	Visible int               `json:"visible"`
	Deleted int               `json:"deleted"`
	Pending int               `json:"pending"`
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica contents and pending uploads per kind",
	Long: `Show how many records of each kind the local replica holds, how many are
tombstones, and how many carry local changes that have not been uploaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("replica store not initialized")
		}

		ctx := commandContext(cmd)
		rows := make([]kindStatus, 0, len(statusKinds))
		pending := 0
		for _, kind := range statusKinds {
			records, err := Store.Query(ctx, kind)
			if err != nil {
				return fmt.Errorf("querying %s: %w", kind, err)
			}
			row := kindStatus{Kind: kind}
			for _, r := range records {
				if r.IsTombstoned() {
					row.Deleted++
				} else {
					row.Visible++
				}
				if r.Pending {
					row.Pending++
				}
			}
			pending += row.Pending
			rows = append(rows, row)
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			return writeJSON(out, rows)
		}

		fmt.Fprintf(out, "Replica: %s\n\n", Store.BasePath())
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.AddRow("KIND", "VISIBLE", "DELETED", "PENDING")
		for _, row := range rows {
			tbl.AddRow(row.Kind, row.Visible, row.Deleted, row.Pending)
		}
		fmt.Fprintln(out, tbl)
		if pending == 0 {
			fmt.Fprintln(out, "\nAll local changes uploaded.")
		} else {
			fmt.Fprintf(out, "\n%d record(s) awaiting upload.\n", pending)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output counts as JSON")
	rootCmd.AddCommand(statusCmd)
}
