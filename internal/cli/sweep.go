package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/scopekv/scopekv/internal/scopedkv"
)

// NewSweepCommand creates the sweep command: physical removal of expired
// records, either once or on the configured interval.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired records from the backing collection",
		Long: `Delete expired records from the backing collection.

Reads already hide expired entries; the sweep reclaims their storage.
With --once a single sweep runs and the command exits; otherwise it
keeps sweeping on the configured interval until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			coll, err := openCollection(cfg)
			if err != nil {
				return err
			}
			defer coll.Close()

			sweeper := scopedkv.NewSweeper(coll, time.Duration(cfg.Sweep.Interval))

			if once {
				n, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "sweep", err)
				}

				out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
				return out.Successf(map[string]any{
					"deleted": n,
				}, "deleted %d expired records", n)
			}

			sweeper.Run(cmd.Context())
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")

	return cmd
}
