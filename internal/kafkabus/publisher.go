package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jpalmerr/tandem"
)

// Header keys set on every published message.
const (
	HeaderOrigin     = "origin"
	HeaderDataCenter = "data_center"
)

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures a [Publisher].
type PublisherConfig struct {
	Brokers []string

	// TopicPrefix is prepended to the recipient's data center to form the
	// destination topic, e.g. "deliveries." + "eu-west".
	TopicPrefix string
}

// Publisher is a [tandem.Publisher] that writes each payload to the topic of
// the recipient's data center, keyed by node id so a node's messages stay
// ordered within a partition.
//
// Writes are synchronous. A write error is reported as [tandem.Rejected]
// together with the error, and the dispatcher retries it.
type Publisher struct {
	writer      messageWriter
	topicPrefix string
	now         func() time.Time
}

// NewPublisher creates a [Publisher] writing to cfg.Brokers.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           5 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  false, // Send must know whether the node's topic took the payload
	}
	return newPublisher(writer, cfg.TopicPrefix), nil
}

func newPublisher(w messageWriter, prefix string) *Publisher {
	return &Publisher{writer: w, topicPrefix: prefix, now: time.Now}
}

// Send implements [tandem.Publisher].
func (p *Publisher) Send(ctx context.Context, to tandem.Address, payload tandem.Payload) (tandem.SendResult, error) {
	if err := p.writer.WriteMessages(ctx, p.message(to, payload)); err != nil {
		return tandem.Rejected, fmt.Errorf("write to %s: %w", to, err)
	}
	return tandem.Accepted, nil
}

// Topic returns the destination topic for a data center.
func (p *Publisher) Topic(dataCenter string) string {
	return p.topicPrefix + dataCenter
}

func (p *Publisher) message(to tandem.Address, payload tandem.Payload) kafka.Message {
	return kafka.Message{
		Topic: p.Topic(to.DataCenter),
		Key:   []byte(to.NodeID),
		Value: payload.Data,
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: HeaderOrigin, Value: []byte(payload.Origin)},
			{Key: HeaderDataCenter, Value: []byte(to.DataCenter)},
		},
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
