package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/jpalmerr/tandem"
)

const (
	readerMinBytes = 10_000     // 10KB
	readerMaxBytes = 10_000_000 // 10MB
)

// messageReader is the subset of *kafka.Reader used by Source.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SourceConfig configures a [Source].
type SourceConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// Source is a [tandem.EventSource] backed by a Kafka consumer group.
//
// Each message is committed before it is decoded, so a malformed envelope
// is skipped rather than redelivered forever. Events without an id get a
// random one.
type Source struct {
	reader messageReader
	logger *slog.Logger
}

// NewSource creates a [Source] reading cfg.Topic as member of cfg.GroupID.
func NewSource(cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        readerMinBytes,
		MaxBytes:        readerMaxBytes,
		MaxWait:         250 * time.Millisecond,
		ReadLagInterval: -1,
	})
	return newSource(reader, logger), nil
}

func newSource(r messageReader, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{reader: r, logger: logger}
}

// ReadNext implements [tandem.EventSource]. It returns ctx's error on
// cancellation and [tandem.ErrSourceExhausted] once the reader is closed.
func (s *Source) ReadNext(ctx context.Context) (tandem.Event, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return tandem.Event{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return tandem.Event{}, tandem.ErrSourceExhausted
		}
		return tandem.Event{}, fmt.Errorf("fetch message: %w", err)
	}

	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return tandem.Event{}, ctx.Err()
		}
		return tandem.Event{}, fmt.Errorf("commit offset %d on partition %d: %w", msg.Offset, msg.Partition, err)
	}

	ev, err := Decode(msg.Value)
	if err != nil {
		s.logger.Warn("skipping malformed event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err.Error(),
		)
		return tandem.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev, nil
}

// Close closes the underlying reader. A blocked ReadNext returns
// [tandem.ErrSourceExhausted].
func (s *Source) Close() error {
	return s.reader.Close()
}
