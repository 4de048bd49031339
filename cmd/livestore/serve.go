package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/livestore"
	"github.com/jpalmerr/livestore/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts the LiveStore server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the LiveStore server.

The server will:
  - Load configuration from the given YAML file, or use defaults
  - Open and seed the record store (migrating Postgres first)
  - Serve the REST routes and the /api/events and /api/ws change streams

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  livestore serve
  livestore serve -c config.yaml --env-file .env`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file")
	serveCmd.Flags().String("env-file", "", "path to a .env file loaded before the config")
}

// loadConfig loads the optional env file and config file named by cmd's flags.
// Without a config file the defaults are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return config.Parse([]byte("{}"))
	}
	return config.Load(configFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"store", cfg.Store.Driver,
		"seed_file", cfg.SeedFile,
		"extra_resources", len(cfg.Resources),
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"keepalive_interval", cfg.KeepaliveInterval.Duration().String(),
	)

	opts := append(config.BuildOptions(cfg), livestore.WithLogger(logger))
	ls, err := livestore.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create LiveStore: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- ls.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
