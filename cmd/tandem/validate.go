package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/tandem/config"
)

// validateCmd validates a config file without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a tandem configuration file without starting the service.

This command parses the YAML, expands environment variables, applies
defaults and validates all fields. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  tandem validate -c config.yaml`,
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

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Server.Port)

	if cfg.Poller.Enabled() {
		fmt.Fprintf(out, "  Poller:        %s, %s (timeout %s)\n",
			cfg.Poller.Backends[0].URL, cfg.Poller.Backends[1].URL, cfg.Poller.Timeout.Duration())
	} else {
		fmt.Fprintf(out, "  Poller:        disabled\n")
	}

	if cfg.Kafka.Enabled() {
		d := cfg.Dispatcher
		fmt.Fprintf(out, "  Dispatcher:    %s -> %s<data_center> (%d workers, queue %d, retry %s, %s)\n",
			cfg.Kafka.Topic, cfg.Kafka.OutputTopicPrefix, d.Concurrency, *d.QueueSize,
			d.RetryDelay.Duration(), d.QueuePolicy)
	} else {
		fmt.Fprintf(out, "  Dispatcher:    disabled\n")
	}

	return nil
}
