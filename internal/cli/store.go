package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStoreCommand creates the store command group.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stores in the current context",
	}

	cmd.AddCommand(newStoreCreateCommand(rootOpts))
	cmd.AddCommand(newStoreListCommand(rootOpts))
	cmd.AddCommand(newStoreCountCommand(rootOpts))
	cmd.AddCommand(newStoreHasCommand(rootOpts))
	cmd.AddCommand(newStoreDeleteCommand(rootOpts))

	return cmd
}

func newStoreCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create <name>",
		Short:         "Create a store in the current context",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			marker, err := store.CreateStore(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "create store", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Successf(map[string]any{
				"store_name": marker.StoreName,
				"context":    marker.Scope.String(),
				"created_at": marker.CreatedAt,
			}, "created store %q in context %s", marker.StoreName, marker.Scope)
		},
	}
}

func newStoreListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stores in the current context",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			names, err := store.ListStores(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list stores", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.List(names)
		},
	}
}

func newStoreCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count",
		Short:         "Count stores in the current context",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			n, err := store.CountStores(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "count stores", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(n)
		},
	}
}

func newStoreHasCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "has <name>",
		Short:         "Check whether a store exists in the current context",
		Long:          "Check whether a store exists in the current context.\nExits 0 when the store exists, 1 when it does not.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			exists, err := store.HasStore(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "check store", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if err := out.Success(exists); err != nil {
				return err
			}
			if !exists {
				return NewExitError(ExitFailure, fmt.Sprintf("store %q not found", args[0]))
			}
			return nil
		},
	}
}

func newStoreDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <name>",
		Short:         "Delete a store and all its keys in the current context",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			n, err := store.DeleteStore(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "delete store", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Successf(map[string]any{
				"store_name": args[0],
				"deleted":    n,
			}, "deleted %d records from store %q", n, args[0])
		},
	}
}
