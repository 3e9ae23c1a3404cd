package cli

import (
	"github.com/spf13/cobra"
)

// NewCleanupCommand creates the cleanup command: full teardown of the
// current context.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every store and key in the current context",
		Long: `Delete every store and key in the current context.

Other contexts are untouched. Zero matches is a valid result, and
re-running is a safe no-op.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			n, err := store.Cleanup(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "cleanup", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Successf(map[string]any{
				"context": store.Scope().String(),
				"deleted": n,
			}, "deleted %d records from context %s", n, store.Scope())
		},
	}
}
