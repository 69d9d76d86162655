package cmd

import (
	"fmt"

	"github.com/lessq/lessq/internal/bootstrap"
	"github.com/lessq/lessq/internal/config"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQL queue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Queue.Store != config.StoreSQL {
				return fmt.Errorf("migrate needs the sql store, configured store is %q", opts.cfg.Queue.Store)
			}

			sqlCfg := opts.cfg.SQL
			sqlCfg.Migrate = true
			s, err := bootstrap.OpenSQL(cmd.Context(), sqlCfg)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}
}
