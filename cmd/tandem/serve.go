package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/tandem"
	"github.com/jpalmerr/tandem/config"
	"github.com/jpalmerr/tandem/internal/kafkabus"
	"github.com/jpalmerr/tandem/internal/server"
	"github.com/jpalmerr/tandem/internal/store"
)

// shutdownTimeout is added to the dispatcher drain timeout to bound how
// long serve waits after a signal.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status API and event dispatcher",
	Long: `Run tandem as a long-lived service.

The service will:
  - Serve GET /api/applications/{id}/status when poller.backends is set
  - Consume events from kafka.topic and deliver them when kafka.brokers is set
  - Serve delivery records on /api/deliveries and /api/sse

The service runs until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  tandem serve -c config.yaml
  tandem serve --config /etc/tandem/config.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"port", cfg.Server.Port,
		"poller", cfg.Poller.Enabled(),
		"dispatcher", cfg.Kafka.Enabled(),
	)

	deliveries := store.NewMemoryStore()

	// keep the interface nil when the poller is disabled so its route is not registered
	var statusGetter server.StatusGetter
	if cfg.Poller.Enabled() {
		poller, clients, err := config.BuildPoller(cfg, logger.With("component", "poller"))
		if err != nil {
			return fmt.Errorf("failed to build poller: %w", err)
		}
		defer func() {
			for _, c := range clients {
				c.Close()
			}
		}()
		statusGetter = poller
	}

	var dispatcher *tandem.EventDispatcher
	if cfg.Kafka.Enabled() {
		dispatcherLogger := logger.With("component", "dispatcher")

		source, err := kafkabus.NewSource(config.SourceConfig(cfg), dispatcherLogger)
		if err != nil {
			return fmt.Errorf("failed to create kafka source: %w", err)
		}
		defer closeLogged(logger, "kafka source", source.Close)

		publisher, err := kafkabus.NewPublisher(config.PublisherConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		defer closeLogged(logger, "kafka publisher", publisher.Close)

		opts, err := config.DispatcherOptions(cfg, dispatcherLogger)
		if err != nil {
			return fmt.Errorf("failed to build dispatcher options: %w", err)
		}
		opts = append(opts, tandem.WithDeliveryCallback(func(r tandem.DeliveryReport) {
			deliveries.Update(deliveryRecord(r, time.Now()))
		}))

		dispatcher, err = tandem.NewEventDispatcher(source, publisher, opts...)
		if err != nil {
			return fmt.Errorf("failed to create dispatcher: %w", err)
		}
	}

	srv := server.NewServer(statusGetter, deliveries, cfg.Server.Port, logger.With("component", "server"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if dispatcher != nil {
		g.Go(func() error {
			dispatcher.Run(gctx)
			return nil
		})
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		grace := shutdownTimeout + cfg.Dispatcher.DrainTimeout.Duration()
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(grace):
			logger.Warn("shutdown timed out",
				"timeout", grace.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

// deliveryRecord converts a dispatcher report into the stored record shape.
func deliveryRecord(r tandem.DeliveryReport, at time.Time) store.DeliveryRecord {
	return store.DeliveryRecord{
		Recipient:  r.Recipient.String(),
		DataCenter: r.Recipient.DataCenter,
		NodeID:     r.Recipient.NodeID,
		EventID:    r.EventID,
		Origin:     r.Origin,
		Outcome:    string(r.Outcome),
		Attempts:   r.Attempts,
		At:         at,
	}
}

func closeLogged(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", "resource", what, "error", err)
	}
}
