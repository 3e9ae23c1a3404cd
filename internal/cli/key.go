package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scopekv/scopekv/internal/scopedkv"
)

// NewKeyCommand creates the key command group.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage keys within a store in the current context",
	}

	cmd.AddCommand(newKeySetCommand(rootOpts))
	cmd.AddCommand(newKeyGetCommand(rootOpts))
	cmd.AddCommand(newKeyDeleteCommand(rootOpts))
	cmd.AddCommand(newKeyListCommand(rootOpts))
	cmd.AddCommand(newKeyCountCommand(rootOpts))
	cmd.AddCommand(newKeyTTLCommand(rootOpts))

	return cmd
}

// keyEntryPayload is the JSON shape of a key entry in command output.
type keyEntryPayload struct {
	StoreName string          `json:"store_name"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Context   string          `json:"context"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func entryPayload(e *scopedkv.KeyEntry) keyEntryPayload {
	return keyEntryPayload{
		StoreName: e.StoreName,
		Key:       e.Key,
		Value:     e.Value,
		Context:   e.Scope.String(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func newKeySetCommand(rootOpts *RootOptions) *cobra.Command {
	var valueJSON string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "set <store> <key>",
		Short: "Set a key's value, creating or updating it",
		Long: `Set a key's value, creating or updating it in one atomic upsert.

The value is given as JSON. A positive --ttl sets the entry to expire
that long from now; omitting it clears any existing expiration.

Example:
  scopekv key set sessions user42 --value '{"x":1}' --ttl 30m`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
				return WrapExitError(ExitCommandError, "invalid --value JSON", err)
			}

			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			entry, err := store.SetKey(cmd.Context(), args[0], args[1], value, ttl)
			if err != nil {
				return WrapExitError(ExitFailure, "set key", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Successf(entryPayload(entry), "set key %q in store %q", entry.Key, entry.StoreName)
		},
	}

	cmd.Flags().StringVar(&valueJSON, "value", "{}", "value as JSON")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time to live (0 = never expires)")

	return cmd
}

func newKeyGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <store> <key>",
		Short:         "Get a key's entry",
		Long:          "Get a key's entry.\nExits 1 when the key does not exist or has expired.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			entry, err := store.GetKey(cmd.Context(), args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "get key", err)
			}
			if entry == nil {
				return NewExitError(ExitFailure, fmt.Sprintf("key %q not found in store %q", args[1], args[0]))
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Successf(entryPayload(entry), "%s", entry.Value)
		},
	}
}

func newKeyDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "del <store> <key>",
		Short:         "Delete a key",
		Long:          "Delete a key.\nExits 1 when the key did not exist.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			deleted, err := store.DeleteKey(cmd.Context(), args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "delete key", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if err := out.Success(deleted); err != nil {
				return err
			}
			if !deleted {
				return NewExitError(ExitFailure, fmt.Sprintf("key %q not found in store %q", args[1], args[0]))
			}
			return nil
		},
	}
}

func newKeyListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <store>",
		Short:         "List keys in a store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			keys, err := store.ListKeys(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "list keys", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.List(keys)
		},
	}
}

func newKeyCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count <store>",
		Short:         "Count keys in a store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			n, err := store.CountKeys(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "count keys", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(n)
		},
	}
}

func newKeyTTLCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ttl <store> <key> <duration>",
		Short: "Update a key's TTL",
		Long: `Update a key's TTL without touching its value or timestamps.

A positive duration sets the entry to expire that long from now; zero
clears the expiration. Exits 1 when no entry was matched and changed.

Example:
  scopekv key ttl sessions user42 60s`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid duration", err)
			}

			store, coll, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer coll.Close()

			changed, err := store.UpdateTTL(cmd.Context(), args[0], args[1], ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "update ttl", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if err := out.Success(changed); err != nil {
				return err
			}
			if !changed {
				return NewExitError(ExitFailure, fmt.Sprintf("key %q not updated in store %q", args[1], args[0]))
			}
			return nil
		},
	}
}
