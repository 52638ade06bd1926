package config

import (
	"context"
	"testing"
	"time"

	"github.com/jpalmerr/tandem"
)

type emptySource struct{}

func (emptySource) ReadNext(context.Context) (tandem.Event, error) {
	return tandem.Event{}, tandem.ErrSourceExhausted
}

var acceptAll = tandem.PublisherFunc(func(context.Context, tandem.Address, tandem.Payload) (tandem.SendResult, error) {
	return tandem.Accepted, nil
})

func TestBuildPoller(t *testing.T) {
	cfg, err := Parse([]byte(`
poller:
  timeout: 3s
  backends:
    - url: https://a.example.com/
    - url: https://b.example.com
      headers:
        X-Token: abc
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	poller, clients, err := BuildPoller(cfg, nil)
	if err != nil {
		t.Fatalf("BuildPoller() error = %v", err)
	}
	if poller.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v, want %v", poller.Timeout(), 3*time.Second)
	}
	if len(clients) != 2 {
		t.Fatalf("len(clients) = %d, want 2", len(clients))
	}
	if got := clients[0].BaseURL(); got != "https://a.example.com" {
		t.Errorf("clients[0].BaseURL() = %q, want %q", got, "https://a.example.com")
	}
	if got := clients[1].BaseURL(); got != "https://b.example.com" {
		t.Errorf("clients[1].BaseURL() = %q, want %q", got, "https://b.example.com")
	}
}

func TestBuildStatusClients_NotConfigured(t *testing.T) {
	if _, _, err := BuildStatusClients(&Config{}); err == nil {
		t.Error("BuildStatusClients() expected error without backends, got nil")
	}
}

func TestDispatcherOptions(t *testing.T) {
	tests := []struct {
		name            string
		yaml            string
		wantConcurrency int
		wantRetryDelay  time.Duration
	}{
		{
			name: "explicit",
			yaml: `
kafka: {brokers: [localhost:9092], topic: events}
dispatcher:
  concurrency: 7
  queue_size: 0
  retry_delay: 250ms
  queue_policy: drop
  drain_timeout: 2s
  send_rate: 50
`,
			wantConcurrency: 7,
			wantRetryDelay:  250 * time.Millisecond,
		},
		{
			name:            "defaults",
			yaml:            `kafka: {brokers: [localhost:9092], topic: events}`,
			wantConcurrency: 0, // resolved from the CPU count
			wantRetryDelay:  time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			opts, err := DispatcherOptions(cfg, testLogger())
			if err != nil {
				t.Fatalf("DispatcherOptions() error = %v", err)
			}

			d, err := tandem.NewEventDispatcher(emptySource{}, acceptAll, opts...)
			if err != nil {
				t.Fatalf("NewEventDispatcher() error = %v", err)
			}

			want := tt.wantConcurrency
			if want == 0 {
				want = cfg.Dispatcher.Concurrency
			}
			if d.Concurrency() != want {
				t.Errorf("Concurrency() = %d, want %d", d.Concurrency(), want)
			}
			if d.RetryDelay() != tt.wantRetryDelay {
				t.Errorf("RetryDelay() = %v, want %v", d.RetryDelay(), tt.wantRetryDelay)
			}
		})
	}
}

func TestDispatcherOptions_InvalidPolicy(t *testing.T) {
	cfg := &Config{Dispatcher: DispatcherConfig{Concurrency: 1, QueuePolicy: "shuffle"}}
	if _, err := DispatcherOptions(cfg, nil); err == nil {
		t.Error("DispatcherOptions() expected error for unknown queue policy, got nil")
	}
}

func TestKafkaConfigs(t *testing.T) {
	cfg, err := Parse([]byte(`
kafka:
  brokers: [k1:9092, k2:9092]
  topic: events
  output_topic_prefix: out.
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	src := SourceConfig(cfg)
	if len(src.Brokers) != 2 || src.Topic != "events" || src.GroupID != "tandem" {
		t.Errorf("SourceConfig() = %+v, want 2 brokers, topic events, group tandem", src)
	}

	pub := PublisherConfig(cfg)
	if pub.TopicPrefix != "out." || len(pub.Brokers) != 2 {
		t.Errorf("PublisherConfig() = %+v, want prefix out. and 2 brokers", pub)
	}
}
