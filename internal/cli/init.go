package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
)

// WorkspaceInit is the WorkspaceInitializer used by the init command.
// Set during application wiring.
var WorkspaceInit core.WorkspaceInitializer

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a qsync replica workspace",
	Long: `Create a replica workspace: a starter .qsyncconfig.yaml and the local store
directory.

Safe to run on an existing workspace: files and directories that already
exist are skipped and not overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if WorkspaceInit == nil {
			return fmt.Errorf("workspace initializer not initialized")
		}

		basePath := "."
		if len(args) > 0 {
			basePath = args[0]
		}
		absPath, err := filepath.Abs(basePath)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		timezone, _ := cmd.Flags().GetString("timezone")
		locale, _ := cmd.Flags().GetString("locale")
		webhook, _ := cmd.Flags().GetString("webhook-url")

		result, err := WorkspaceInit.Init(core.InitConfig{
			BasePath:   absPath,
			Timezone:   timezone,
			Locale:     locale,
			WebhookURL: webhook,
		})
		if err != nil {
			return fmt.Errorf("initializing workspace: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(result.Created) > 0 {
			fmt.Fprintln(out, "Created:")
			for _, p := range result.Created {
				fmt.Fprintf(out, "  %s\n", relOrSelf(absPath, p))
			}
		}
		if len(result.Skipped) > 0 {
			fmt.Fprintln(out, "Skipped (already exist):")
			for _, p := range result.Skipped {
				fmt.Fprintf(out, "  %s\n", relOrSelf(absPath, p))
			}
		}

		fmt.Fprintf(out, "\nWorkspace initialized at %s\n", absPath)
		return nil
	},
}

func relOrSelf(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return p
	}
	return rel
}

func init() {
	initCmd.Flags().String("timezone", "", "IANA timezone for day bucketing (default: Local)")
	initCmd.Flags().String("locale", "", "BCP 47 locale for sorting titles (default: en)")
	initCmd.Flags().String("webhook-url", "", "Enable alert notifications to this webhook")
	rootCmd.AddCommand(initCmd)
}
