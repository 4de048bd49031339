package main

import (
	"fmt"

	"github.com/jpalmerr/livestore/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a LiveStore configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  livestore validate -c config.yaml
  livestore validate --config /etc/livestore/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seed := cfg.SeedFile
	if seed == "" {
		seed = "(built-in)"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:               %d\n", cfg.Port)
	fmt.Printf("  Keepalive interval: %s\n", cfg.KeepaliveInterval.Duration())
	fmt.Printf("  Write timeout:      %s\n", cfg.WriteTimeout.Duration())
	fmt.Printf("  Queue size:         %d\n", cfg.QueueSize)
	fmt.Printf("  Store:              %s\n", cfg.Store.Driver)
	fmt.Printf("  Seed:               %s\n", seed)
	fmt.Printf("  Extra resources:    %d\n", len(cfg.Resources))

	return nil
}
