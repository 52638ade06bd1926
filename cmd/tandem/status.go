package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/tandem"
	"github.com/jpalmerr/tandem/config"
)

var statusCmd = &cobra.Command{
	Use:   "status <application-id>",
	Short: "Poll the status of one application",
	Long: `Race both configured status backends for one application and print the
result as JSON.

Retry responses are honoured until poller.timeout (or --timeout) elapses.
The command exits with code 1 when no backend produced a status.

Example:
  tandem status app-42 -c config.yaml
  tandem status app-42 -c config.yaml --timeout 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	statusCmd.Flags().Duration("timeout", 0, "override poller.timeout")
	_ = statusCmd.MarkFlagRequired("config")
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.Poller.Timeout = config.Duration(timeout)
	}

	poller, clients, err := config.BuildPoller(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build poller: %w", err)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return printStatus(cmd.OutOrStdout(), poller.GetStatus(ctx, args[0]))
}

type statusOutput struct {
	Result          string     `json:"result"`
	ID              string     `json:"id,omitempty"`
	Status          string     `json:"status,omitempty"`
	LastAttemptTime *time.Time `json:"last_attempt_time,omitempty"`
	AttemptCount    *int       `json:"attempt_count,omitempty"`
}

// printStatus writes st as indented JSON and returns an error for failures
// so the process exits non-zero.
func printStatus(w io.Writer, st tandem.ApplicationStatus) error {
	var out statusOutput
	var failure error

	switch s := st.(type) {
	case tandem.SuccessStatus:
		out = statusOutput{Result: "success", ID: s.ApplicationID, Status: s.Status}
	case tandem.FailureStatus:
		out = statusOutput{Result: "failure", AttemptCount: &s.AttemptCount}
		if s.HasAttempt() {
			at := s.LastAttemptTime
			out.LastAttemptTime = &at
		}
		failure = fmt.Errorf("status unavailable after %d attempt(s)", s.AttemptCount)
	default:
		return fmt.Errorf("unexpected application status %T", st)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return failure
}
