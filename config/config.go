// Package config provides YAML configuration parsing for the tandem binary.
//
// Example configuration:
//
//	server:
//	  port: 8080
//
//	poller:
//	  timeout: 15s
//	  backends:
//	    - url: https://status-a.example.com
//	    - url: ${STATUS_B_URL:-https://status-b.example.com}
//	      headers:
//	        Authorization: Bearer ${STATUS_TOKEN}
//
//	dispatcher:
//	  concurrency: 8
//	  retry_delay: 1s
//	  queue_policy: drain
//
//	kafka:
//	  brokers: [localhost:9092]
//	  group_id: tandem
//	  topic: events
//	  output_topic_prefix: deliveries.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/tandem"
)

const (
	defaultPort        = 8080
	defaultPollTimeout = 15 * time.Second
	defaultRetryDelay  = time.Second
	defaultGroupID     = "tandem"

	// maxPollTimeout keeps a misconfigured poll from holding an HTTP
	// request open indefinitely.
	maxPollTimeout = 5 * time.Minute
)

// Config is the root configuration structure.
//
// It maps directly to the YAML file. Use [Load] or [Parse] to create one.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Poller     PollerConfig     `yaml:"poller"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`
}

// PollerConfig configures the redundant status poller.
type PollerConfig struct {
	// Timeout bounds a whole GetStatus call, retries included. Defaults to 15s.
	Timeout Duration `yaml:"timeout"`

	// Backends lists exactly two equivalent status backends, or none to
	// disable the poller.
	Backends []BackendConfig `yaml:"backends"`
}

// BackendConfig is one HTTP status backend.
type BackendConfig struct {
	// URL is the backend base URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Headers are sent with every request. Values support substitution.
	Headers map[string]string `yaml:"headers"`
}

// DispatcherConfig configures the event dispatcher.
type DispatcherConfig struct {
	// Concurrency is the number of workers. Defaults to the number of CPUs.
	Concurrency int `yaml:"concurrency"`

	// QueueSize is the number of events buffered ahead of the workers.
	// Defaults to Concurrency.
	QueueSize *int `yaml:"queue_size"`

	// RetryDelay is the wait before resending a rejected payload. Defaults to 1s.
	RetryDelay *Duration `yaml:"retry_delay"`

	// QueuePolicy is "drain" (default) or "drop".
	QueuePolicy string `yaml:"queue_policy"`

	// DrainTimeout lets deliveries continue this long after shutdown begins.
	DrainTimeout Duration `yaml:"drain_timeout"`

	// SendRate caps sends per second across all workers; 0 disables it.
	SendRate float64 `yaml:"send_rate"`

	// SendBurst is the limiter burst size. Defaults to 1 when SendRate is set.
	SendBurst int `yaml:"send_burst"`
}

// KafkaConfig configures the event source and publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`

	// GroupID is the consumer group. Defaults to "tandem".
	GroupID string `yaml:"group_id"`

	// Topic carries incoming event envelopes.
	Topic string `yaml:"topic"`

	// OutputTopicPrefix is prepended to a recipient's data center to name
	// its delivery topic.
	OutputTopicPrefix string `yaml:"output_topic_prefix"`
}

// Enabled reports whether the poller is configured.
func (p PollerConfig) Enabled() bool {
	return len(p.Backends) > 0
}

// Enabled reports whether the dispatcher's Kafka wiring is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part, present when a default was given
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in backend URLs, header values and
// Kafka brokers. Defaults are applied before validation; the dispatcher
// concurrency default is resolved here from the CPU count.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = Duration(defaultPollTimeout)
	}
	if c.Dispatcher.Concurrency == 0 {
		c.Dispatcher.Concurrency = runtime.NumCPU()
	}
	if c.Dispatcher.QueueSize == nil {
		size := c.Dispatcher.Concurrency
		c.Dispatcher.QueueSize = &size
	}
	if c.Dispatcher.RetryDelay == nil {
		d := Duration(defaultRetryDelay)
		c.Dispatcher.RetryDelay = &d
	}
	if c.Dispatcher.QueuePolicy == "" {
		c.Dispatcher.QueuePolicy = tandem.DrainQueued.String()
	}
	if c.Dispatcher.SendRate > 0 && c.Dispatcher.SendBurst == 0 {
		c.Dispatcher.SendBurst = 1
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = defaultGroupID
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if err := c.Poller.expandAndValidate(); err != nil {
		return err
	}
	if err := c.Dispatcher.validate(); err != nil {
		return err
	}
	if err := c.Kafka.expandAndValidate(); err != nil {
		return err
	}

	if !c.Poller.Enabled() && !c.Kafka.Enabled() {
		return errors.New("at least one of poller.backends or kafka.brokers must be configured")
	}
	return nil
}

func (p *PollerConfig) expandAndValidate() error {
	if p.Timeout.Duration() < 0 {
		return fmt.Errorf("poller.timeout cannot be negative, got %s", p.Timeout.Duration())
	}
	if p.Timeout.Duration() > maxPollTimeout {
		return fmt.Errorf("poller.timeout must not exceed %s, got %s", maxPollTimeout, p.Timeout.Duration())
	}

	if !p.Enabled() {
		return nil
	}
	if len(p.Backends) != 2 {
		return fmt.Errorf("poller.backends must list exactly 2 backends, got %d", len(p.Backends))
	}

	for i := range p.Backends {
		b := &p.Backends[i]

		if b.URL == "" {
			return fmt.Errorf("poller.backends[%d]: url is required", i)
		}
		expanded, err := expandEnvVars(b.URL)
		if err != nil {
			return fmt.Errorf("poller.backends[%d]: url: %w", i, err)
		}
		b.URL = expanded

		parsedURL, err := url.Parse(b.URL)
		if err != nil {
			return fmt.Errorf("poller.backends[%d]: invalid url: %w", i, err)
		}
		if parsedURL.Scheme == "" {
			return fmt.Errorf("poller.backends[%d]: url must have a scheme (http:// or https://)", i)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("poller.backends[%d]: url scheme must be http or https, got %q", i, parsedURL.Scheme)
		}

		for k, v := range b.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("poller.backends[%d]: headers[%s]: %w", i, k, err)
			}
			b.Headers[k] = expanded
		}
	}
	return nil
}

func (d *DispatcherConfig) validate() error {
	if d.Concurrency < 0 {
		return fmt.Errorf("dispatcher.concurrency must be positive, got %d", d.Concurrency)
	}
	if *d.QueueSize < 0 {
		return fmt.Errorf("dispatcher.queue_size cannot be negative, got %d", *d.QueueSize)
	}
	if d.RetryDelay.Duration() < 0 {
		return fmt.Errorf("dispatcher.retry_delay cannot be negative, got %s", d.RetryDelay.Duration())
	}
	if _, err := tandem.ParseQueuePolicy(d.QueuePolicy); err != nil {
		return fmt.Errorf("dispatcher.queue_policy: %w", err)
	}
	if d.DrainTimeout.Duration() < 0 {
		return fmt.Errorf("dispatcher.drain_timeout cannot be negative, got %s", d.DrainTimeout.Duration())
	}
	if d.SendRate < 0 {
		return fmt.Errorf("dispatcher.send_rate cannot be negative, got %v", d.SendRate)
	}
	if d.SendBurst < 0 {
		return fmt.Errorf("dispatcher.send_burst cannot be negative, got %d", d.SendBurst)
	}
	return nil
}

func (k *KafkaConfig) expandAndValidate() error {
	if !k.Enabled() {
		return nil
	}

	for i, b := range k.Brokers {
		expanded, err := expandEnvVars(b)
		if err != nil {
			return fmt.Errorf("kafka.brokers[%d]: %w", i, err)
		}
		if expanded == "" {
			return fmt.Errorf("kafka.brokers[%d]: address is required", i)
		}
		k.Brokers[i] = expanded
	}

	if k.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
