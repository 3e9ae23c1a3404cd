package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAdminCommand creates the admin command group: cross-context queries
// that ignore --context entirely.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Cross-context queries over all owners and the global context",
	}

	cmd.AddCommand(newAdminStoresCommand(rootOpts))
	cmd.AddCommand(newAdminCountCommand(rootOpts))
	cmd.AddCommand(newAdminHasCommand(rootOpts))

	return cmd
}

func newAdminStoresCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stores",
		Short:         "List stores across all contexts",
		Long:          "List stores across all contexts.\nA name used in several contexts appears once per context.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			names, err := store.ListStoresGlobal(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list stores globally", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.List(names)
		},
	}
}

func newAdminCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count-stores",
		Short:         "Count stores across all contexts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			n, err := store.CountStoresGlobal(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "count stores globally", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(n)
		},
	}
}

func newAdminHasCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "has-store <name>",
		Short:         "Check whether any context has a store with the given name",
		Long:          "Check whether any context has a store with the given name.\nExits 0 when one exists, 1 when none does.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			exists, err := store.HasStoreGlobal(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "check store globally", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if err := out.Success(exists); err != nil {
				return err
			}
			if !exists {
				return NewExitError(ExitFailure, fmt.Sprintf("store %q not found in any context", args[0]))
			}
			return nil
		},
	}
}
