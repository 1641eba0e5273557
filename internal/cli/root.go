// Package cli implements pharmactl, the operator CLI for the pharmacy
// backend: schema migration, directory seeding and ledger housekeeping.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/repo"
	"github.com/tbourn/go-pharmacy-backend/internal/sysutil"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath   string
	LogLevel string
	Pretty   bool

	log zerolog.Logger
}

// NewRootCommand creates the root command for pharmactl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pharmactl",
		Short: "Operator tooling for the pharmacy backend",
		Long:  "Migrates the schema, seeds the pharmacy directory and prescriptions from YAML, and purges expired idempotency records.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.DBPath == "" {
				return fmt.Errorf("--db must not be empty")
			}
			sysutil.SetLogLevel(opts.LogLevel)
			opts.log = sysutil.NewLogger(cmd.ErrOrStderr(), opts.Pretty, "pharmactl")
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", sysutil.FirstNonEmpty(os.Getenv("DB_PATH"), "app.db"), "SQLite database path")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", sysutil.FirstNonEmpty(os.Getenv("LOG_LEVEL"), "info"), "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", sysutil.IsTruthy(os.Getenv("LOG_PRETTY")), "human-readable logs")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewPurgeLedgerCommand(opts))

	return cmd
}

// open connects to the configured database and brings the schema up to date.
func (o *RootOptions) open() (*gorm.DB, error) {
	db, err := repo.OpenSQLite(o.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.DBPath, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// closeDB releases the pool; the process is about to exit anyway.
func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
