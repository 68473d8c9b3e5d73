package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/questsync/internal/core"
	"github.com/valter-silva-au/questsync/pkg/models"
)

var (
	resolveKind   string
	resolveOp     string
	resolveLocal  string
	resolveRemote string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a conflict between a local and a remote record",
	Long: `Run the conflict resolver over two versions of the same entity and print
the surviving record together with the policy that decided it.

Both records are read from JSON or YAML files ("-" reads stdin). Nothing is
written to the replica.`,
	Example: `  qsync resolve --kind Task --op UPDATE --local local.yaml --remote remote.yaml`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Resolver == nil {
			return fmt.Errorf("conflict resolver not initialized")
		}
		op, ok := core.ParseOperation(resolveOp)
		if !ok {
			return fmt.Errorf("invalid --op %q (use CREATE, UPDATE or DELETE)", resolveOp)
		}
		kind := models.EntityKind(resolveKind)

		var local, remote models.Record
		if err := readDocument(resolveLocal, cmd.InOrStdin(), &local); err != nil {
			return fmt.Errorf("loading local record: %w", err)
		}
		if err := readDocument(resolveRemote, cmd.InOrStdin(), &remote); err != nil {
			return fmt.Errorf("loading remote record: %w", err)
		}
		if local.Kind == "" {
			local.Kind = kind
		}
		if remote.Kind == "" {
			remote.Kind = kind
		}

		policy := Resolver.Policy(kind, local, remote, op)
		resolved := Resolver.Resolve(kind, local, remote, op)

		return writeJSON(cmd.OutOrStdout(), struct {
			Policy core.Policy   `json:"policy"`
			Record models.Record `json:"record"`
		}{policy, resolved})
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveKind, "kind", string(models.KindTask), "Entity kind of both records")
	resolveCmd.Flags().StringVar(&resolveOp, "op", string(core.OpUpdate), "Operation that produced the conflict (CREATE, UPDATE, DELETE)")
	resolveCmd.Flags().StringVar(&resolveLocal, "local", "", "File holding the local record")
	resolveCmd.Flags().StringVar(&resolveRemote, "remote", "", "File holding the remote record")
	_ = resolveCmd.MarkFlagRequired("local")
	_ = resolveCmd.MarkFlagRequired("remote")
	registerResolveCompletions(resolveCmd)
	rootCmd.AddCommand(resolveCmd)
}
