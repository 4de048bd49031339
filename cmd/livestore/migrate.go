package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/livestore/config"
	"github.com/jpalmerr/livestore/internal/store"
	"github.com/spf13/cobra"
)

// migrateCmd applies the Postgres schema without starting the server.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres schema migrations",
	Long: `Apply pending schema migrations to a Postgres database.

serve runs the same migrations on start; this command is for deploy
pipelines that migrate before rolling out. The DSN comes from --dsn, or from
store.dsn in the config file.

Example:
  livestore migrate --dsn postgres://app@localhost:5432/livestore
  livestore migrate -c config.yaml --env-file .env`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().String("dsn", "", "Postgres connection string")
	migrateCmd.Flags().StringP("config", "c", "", "path to config file")
	migrateCmd.Flags().String("env-file", "", "path to a .env file loaded before the config")
}

// migrationDSN picks the DSN from --dsn or from a postgres config.
func migrationDSN(cmd *cobra.Command) (string, error) {
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		return dsn, nil
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile == "" {
		return "", errors.New("either --dsn or --config is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		return "", fmt.Errorf("config uses the %s store, nothing to migrate", cfg.Store.Driver)
	}
	return cfg.Store.DSN, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dsn, err := migrationDSN(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx, dsn); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}
