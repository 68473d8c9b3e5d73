package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/storage"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print a line whenever the replica changes on disk",
	Long: `Follow the replica directory and report which kinds change, including
changes made by other qsync processes or the sync engine. Bursts of writes
are coalesced. Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("replica store not initialized")
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
		defer stop()

		return followChanges(ctx, cmd, time.Now)
	},
}

func followChanges(ctx context.Context, cmd *cobra.Command, now func() time.Time) error {
	events, err := Store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watching replica: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s\n", Store.BasePath())
	for ev := range events {
		stamp := now().Format("15:04:05")
		switch ev.Type {
		case storage.WatchKindChanged:
			fmt.Fprintf(out, "%s  %s changed\n", stamp, ev.Kind)
		case storage.WatchInvalidated:
			fmt.Fprintf(out, "%s  replica changed\n", stamp)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
