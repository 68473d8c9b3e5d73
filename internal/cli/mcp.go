package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	qsmcp "github.com/valter-silva-au/questsync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the qsync MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the qsync MCP server on stdio",
	Long: `Start the qsync MCP server on stdio transport.

The server exposes qsync functionality as MCP tools that AI assistants can
call: get_agenda, resolve_conflict, submit_answers, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := mcpDeps()
		if err != nil {
			return err
		}

		srv := qsmcp.NewServer(deps, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

// mcpDeps collects the initialized services for the MCP server.
func mcpDeps() (qsmcp.Deps, error) {
	if Agenda == nil || Guard == nil {
		return qsmcp.Deps{}, fmt.Errorf("replica services not initialized")
	}
	return qsmcp.Deps{
		Agenda:      Agenda,
		Resolver:    Resolver,
		Submitter:   Guard,
		MetricsCalc: MetricsCalc,
		AlertEngine: AlertEngine,
	}, nil
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
