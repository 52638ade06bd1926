package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/tandem"
	"github.com/jpalmerr/tandem/internal/kafkabus"
	"github.com/jpalmerr/tandem/internal/statusclient"
)

// PollerOptions converts the poller section into [tandem.PollerOption]s.
// A nil logger leaves the poller on [slog.Default].
func PollerOptions(cfg *Config, logger *slog.Logger) []tandem.PollerOption {
	opts := []tandem.PollerOption{
		tandem.WithTimeout(cfg.Poller.Timeout.Duration()),
	}
	if logger != nil {
		opts = append(opts, tandem.WithPollerLogger(logger))
	}
	return opts
}

// BuildStatusClients creates the primary and secondary HTTP status clients.
func BuildStatusClients(cfg *Config) (primary, secondary *statusclient.Client, err error) {
	if !cfg.Poller.Enabled() {
		return nil, nil, errors.New("poller.backends is not configured")
	}

	clients := make([]*statusclient.Client, len(cfg.Poller.Backends))
	for i, b := range cfg.Poller.Backends {
		c, err := statusclient.New(b.URL, b.Headers)
		if err != nil {
			return nil, nil, fmt.Errorf("poller.backends[%d]: %w", i, err)
		}
		clients[i] = c
	}
	return clients[0], clients[1], nil
}

// BuildPoller creates a [tandem.StatusPoller] racing the two configured
// backends. The returned clients should be closed when the poller is no
// longer used.
func BuildPoller(cfg *Config, logger *slog.Logger) (*tandem.StatusPoller, []*statusclient.Client, error) {
	primary, secondary, err := BuildStatusClients(cfg)
	if err != nil {
		return nil, nil, err
	}

	poller, err := tandem.NewStatusPoller(primary, secondary, PollerOptions(cfg, logger)...)
	if err != nil {
		return nil, nil, err
	}
	return poller, []*statusclient.Client{primary, secondary}, nil
}

// DispatcherOptions converts the dispatcher section into
// [tandem.DispatcherOption]s. Delivery callbacks are appended by the caller.
func DispatcherOptions(cfg *Config, logger *slog.Logger) ([]tandem.DispatcherOption, error) {
	d := cfg.Dispatcher

	policy, err := tandem.ParseQueuePolicy(d.QueuePolicy)
	if err != nil {
		return nil, fmt.Errorf("dispatcher.queue_policy: %w", err)
	}

	opts := []tandem.DispatcherOption{
		tandem.WithConcurrency(d.Concurrency),
		tandem.WithQueuePolicy(policy),
		tandem.WithDrainTimeout(d.DrainTimeout.Duration()),
	}
	if d.QueueSize != nil {
		opts = append(opts, tandem.WithQueueSize(*d.QueueSize))
	}
	if d.RetryDelay != nil {
		opts = append(opts, tandem.WithRetryDelay(d.RetryDelay.Duration()))
	}
	if d.SendRate > 0 {
		opts = append(opts, tandem.WithSendRate(d.SendRate, d.SendBurst))
	}
	if logger != nil {
		opts = append(opts, tandem.WithDispatcherLogger(logger))
	}
	return opts, nil
}

// SourceConfig returns the Kafka consumer settings.
func SourceConfig(cfg *Config) kafkabus.SourceConfig {
	return kafkabus.SourceConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.Topic,
	}
}

// PublisherConfig returns the Kafka producer settings.
func PublisherConfig(cfg *Config) kafkabus.PublisherConfig {
	return kafkabus.PublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		TopicPrefix: cfg.Kafka.OutputTopicPrefix,
	}
}
