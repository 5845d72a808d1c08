package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lmbridge/internal/auth"
	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/database"
	"github.com/nerrad567/lmbridge/internal/infrastructure/logging"
)

// options are the flags shared by every command.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "lmbridge",
		Short:         "Bridge La Marzocco machines to MQTT, InfluxDB and HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.Path(),
		"configuration file (LMBRIDGE_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newThingsCmd(opts),
		newRegisterCmd(opts),
		newStatsCmd(opts),
		newBLECmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lmbridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the configuration and builds the configured logger.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openStore opens the database, applies migrations and returns the
// credential store on top of it. The caller closes the database.
func openStore(ctx context.Context, cfg *config.Config) (*database.DB, *auth.SQLiteStore, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	store := auth.NewSQLiteStore(db.DB, auth.NewSealer(cfg.Security.CredentialPassphrase))
	return db, store, nil
}
