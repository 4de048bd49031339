// Package main is the entry point for the livestore CLI.
//
// LiveStore can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	livestore serve -c config.yaml       # Start the server
//	livestore validate -c config.yaml    # Validate configuration
//	livestore seed -o db.json --users 50 # Write a seed file
//	livestore migrate --dsn postgres://… # Apply schema migrations
//	livestore version                    # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "livestore",
	Short: "A JSON record store that streams its changes",
	Long: `LiveStore serves JSON records over a REST API and pushes every
committed change to subscribers over Server-Sent Events or WebSocket.

Quick start:
  1. Run: livestore serve
  2. Subscribe: curl -N http://localhost:3001/api/events
  3. Write: curl -X PATCH -d '{"status":"Inactive"}' http://localhost:3001/users/1

Example config:
  port: 3001
  keepalive_interval: 30s
  seed_file: ./db.json
  store:
    driver: postgres
    dsn: ${DATABASE_URL}`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this livestore binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("livestore %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
