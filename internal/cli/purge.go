package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-pharmacy-backend/internal/ledger"
)

// NewPurgeLedgerCommand creates the purge-ledger command. It removes
// idempotency records past their retention; live keys are untouched.
func NewPurgeLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-ledger",
		Short: "Delete expired idempotency records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := ledger.New(db, 0, 0).Purge(cmd.Context())
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			rootOpts.log.Info().Int64("deleted", n).Msg("ledger purged")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired record(s)\n", n)
			return err
		},
	}
}
