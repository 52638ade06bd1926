// Package main is the entry point for the tandem CLI.
//
// Usage:
//
//	tandem serve -c config.yaml       # Run the status API and event dispatcher
//	tandem status <id> -c config.yaml # Poll one application status
//	tandem validate -c config.yaml    # Validate configuration
//	tandem version                    # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help; functionality lives in subcommands.
var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Redundant status polling and event fan-out",
	Long: `tandem races two equivalent status backends for every status lookup and
fans events out from Kafka to per-datacenter delivery topics.

Quick start:
  1. Create a config file (tandem.yaml)
  2. Run: tandem serve -c tandem.yaml
  3. Query http://localhost:8080/api/applications/<id>/status

Example config:
  poller:
    timeout: 15s
    backends:
      - url: https://status-a.example.com
      - url: https://status-b.example.com
  kafka:
    brokers: [localhost:9092]
    topic: events
    output_topic_prefix: deliveries.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this tandem binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tandem %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger on stderr at the level named by the
// --log-level flag.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", name, err)
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})), nil
}
