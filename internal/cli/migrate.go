package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer closeDB(db)

			rootOpts.log.Info().Str("db", rootOpts.DBPath).Msg("schema migrated")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", rootOpts.DBPath)
			return err
		},
	}
}
