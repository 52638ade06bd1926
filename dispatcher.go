package tandem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jpalmerr/tandem/internal/pool"
)

const (
	defaultConcurrency = 4
	defaultRetryDelay  = time.Second
)

// QueuePolicy decides what happens to events that were accepted by the
// worker pool but not yet started when the dispatcher is cancelled.
type QueuePolicy int

const (
	// DrainQueued hands every queued event to a worker before Run returns.
	// Deliveries observe the stop signal, so recipients that were not reached
	// are reported as abandoned rather than silently lost in the queue.
	DrainQueued QueuePolicy = iota

	// DropQueued discards queued events as soon as the stop signal fires.
	// Only events already being processed observe the signal themselves.
	DropQueued
)

// String returns "drain" or "drop".
func (p QueuePolicy) String() string {
	switch p {
	case DrainQueued:
		return "drain"
	case DropQueued:
		return "drop"
	default:
		return fmt.Sprintf("QueuePolicy(%d)", int(p))
	}
}

// ParseQueuePolicy converts "drain" or "drop" to a [QueuePolicy].
// An empty string selects [DrainQueued].
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "", "drain":
		return DrainQueued, nil
	case "drop":
		return DropQueued, nil
	default:
		return 0, fmt.Errorf("unknown queue policy %q (expected 'drain' or 'drop')", s)
	}
}

// EventDispatcher fans events out to their recipients.
//
// Run reads events one at a time and spreads them over a fixed-size worker
// pool. A worker owns an event until every recipient has accepted the
// payload or the dispatcher is cancelled. Each recipient is retried after a
// fixed delay for as long as the publisher rejects it; there is no retry
// ceiling. Events are never requeued, so an event cut short by cancellation
// stays partially delivered.
type EventDispatcher struct {
	source       EventSource
	publisher    Publisher
	concurrency  int
	queueSize    int
	retryDelay   time.Duration
	policy       QueuePolicy
	drainTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
	callbacks    []func(DeliveryReport)
}

// NewEventDispatcher creates an [EventDispatcher] reading from source and
// sending through publisher.
//
// Defaults:
//   - Concurrency: 4 workers
//   - Queue size: equal to concurrency
//   - Retry delay: 1 second
//   - Queue policy: [DrainQueued]
//   - Drain timeout: none
//   - Send rate: unlimited
//
// Returns an error if source or publisher is nil or an option is invalid.
func NewEventDispatcher(source EventSource, publisher Publisher, opts ...DispatcherOption) (*EventDispatcher, error) {
	if source == nil {
		return nil, errors.New("event source is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}

	cfg := &dispatcherConfig{
		concurrency: defaultConcurrency,
		queueSize:   -1,
		retryDelay:  defaultRetryDelay,
		policy:      DrainQueued,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	queueSize := cfg.queueSize
	if queueSize < 0 {
		queueSize = cfg.concurrency
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.sendRate > 0 {
		burst := cfg.sendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.sendRate), burst)
	}

	return &EventDispatcher{
		source:       source,
		publisher:    publisher,
		concurrency:  cfg.concurrency,
		queueSize:    queueSize,
		retryDelay:   cfg.retryDelay,
		policy:       cfg.policy,
		drainTimeout: cfg.drainTimeout,
		limiter:      limiter,
		logger:       logger,
		callbacks:    cfg.callbacks,
	}, nil
}

// Concurrency returns the maximum number of events processed at once.
func (d *EventDispatcher) Concurrency() int {
	return d.concurrency
}

// RetryDelay returns the wait between a rejected send and its retry.
func (d *EventDispatcher) RetryDelay() time.Duration {
	return d.retryDelay
}

// Run reads and dispatches events until ctx is cancelled or the source is
// exhausted, then waits for the worker pool to finish.
//
// Cancellation stops reading and submission immediately. Running deliveries
// stop at their next send or retry wait (after the drain timeout, if one is
// configured). Queued events are handled according to the [QueuePolicy].
// When the source is exhausted without cancellation, every accepted event is
// delivered before Run returns.
//
// Run does not report errors; individual failures are logged and passed to
// delivery callbacks.
func (d *EventDispatcher) Run(ctx context.Context) {
	start := time.Now()

	deliverCtx, stopDeliveries := d.deliveryContext(ctx)
	defer stopDeliveries()

	// events a worker picks up after cancellation under DropQueued
	var dropped atomic.Int64

	workers, err := pool.New(d.concurrency, d.queueSize, func(ev Event) {
		if d.policy == DropQueued && ctx.Err() != nil {
			dropped.Add(1)
			return
		}
		d.deliver(deliverCtx, ev)
	}, d.logger)
	if err != nil {
		// options are validated in NewEventDispatcher
		d.logger.Error("failed to create worker pool", "error", err)
		return
	}
	workers.Start()

	d.logger.Info("dispatcher started",
		"concurrency", d.concurrency,
		"queue_size", d.queueSize,
		"retry_delay", d.retryDelay.String(),
		"queue_policy", d.policy.String(),
	)

	read := d.readLoop(ctx, workers)

	if ctx.Err() != nil && d.policy == DropQueued {
		if n := int64(workers.Discard()) + dropped.Load(); n > 0 {
			d.logger.Info("queued events discarded", "count", n)
		}
	} else {
		workers.Drain()
	}

	stats := workers.Stats()
	d.logger.Info("dispatcher stopped",
		"events_read", read,
		"events_processed", stats.Completed,
		"peak_concurrency", stats.Peak,
		"took", time.Since(start).String(),
	)
}

// readLoop pulls events and submits them until ctx is done or the source
// ends. It returns the number of events read.
func (d *EventDispatcher) readLoop(ctx context.Context, workers *pool.Pool[Event]) int {
	read := 0
	for ctx.Err() == nil {
		ev, err := d.source.ReadNext(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				d.logger.Info("event read cancelled")
				return read
			case errors.Is(err, ErrSourceExhausted), errors.Is(err, io.EOF):
				d.logger.Info("event source exhausted")
				return read
			default:
				d.logger.Error("event read failed", "error", err.Error())
				continue
			}
		}
		read++

		if err := workers.Submit(ctx, ev); err != nil {
			d.logger.Info("event not queued; dispatcher stopping",
				"event_id", ev.ID,
				"recipients", len(ev.Recipients),
				"reason", err.Error(),
			)
			return read
		}
		d.logger.Debug("event queued", "event_id", ev.ID, "recipients", len(ev.Recipients))
	}
	d.logger.Info("event read cancelled")
	return read
}

// deliveryContext returns the context deliveries observe. Without a drain
// timeout it is ctx itself; otherwise it outlives ctx by the drain timeout.
func (d *EventDispatcher) deliveryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.drainTimeout <= 0 {
		return ctx, func() {}
	}

	deliverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-ctx.Done():
		case <-deliverCtx.Done():
			return
		}
		timer := time.NewTimer(d.drainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			d.logger.Info("drain timeout elapsed; abandoning deliveries", "drain_timeout", d.drainTimeout.String())
			cancel()
		case <-deliverCtx.Done():
		}
	}()
	return deliverCtx, cancel
}

// deliver sends the event payload to every recipient in order.
func (d *EventDispatcher) deliver(ctx context.Context, ev Event) {
	start := time.Now()

	for i, to := range ev.Recipients {
		attempts, ok := d.sendWithRetry(ctx, ev, to)
		if !ok {
			d.report(DeliveryReport{EventID: ev.ID, Recipient: to, Origin: ev.Payload.Origin, Attempts: attempts, Outcome: OutcomeAbandoned})
			for _, rest := range ev.Recipients[i+1:] {
				d.report(DeliveryReport{EventID: ev.ID, Recipient: rest, Origin: ev.Payload.Origin, Outcome: OutcomeAbandoned})
			}
			d.logger.Info("event delivery abandoned",
				"event_id", ev.ID,
				"delivered", i,
				"abandoned", len(ev.Recipients)-i,
			)
			return
		}
		d.report(DeliveryReport{EventID: ev.ID, Recipient: to, Origin: ev.Payload.Origin, Attempts: attempts, Outcome: OutcomeDelivered})
	}

	d.logger.Debug("event delivered",
		"event_id", ev.ID,
		"recipients", len(ev.Recipients),
		"dur", time.Since(start).String(),
	)
}

// sendWithRetry delivers to one recipient, retrying rejected sends until
// the payload is accepted or ctx is done. It returns the number of Send
// calls made and whether the recipient accepted.
func (d *EventDispatcher) sendWithRetry(ctx context.Context, ev Event, to Address) (int, bool) {
	attempts := 0
	for ctx.Err() == nil {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return attempts, false
			}
		}

		attempts++
		result, err := d.publisher.Send(ctx, to, ev.Payload)
		if err != nil {
			if ctx.Err() != nil {
				return attempts, false
			}
			d.logger.Warn("send failed; retrying",
				"event_id", ev.ID,
				"recipient", to.String(),
				"attempt", attempts,
				"delay", d.retryDelay.String(),
				"error", err.Error(),
			)
			if sleep(ctx, d.retryDelay) != nil {
				return attempts, false
			}
			continue
		}

		switch result {
		case Accepted:
			d.logger.Debug("send accepted", "event_id", ev.ID, "recipient", to.String(), "attempt", attempts)
			return attempts, true
		case Rejected:
			d.logger.Warn("send rejected; retrying",
				"event_id", ev.ID,
				"recipient", to.String(),
				"attempt", attempts,
				"delay", d.retryDelay.String(),
			)
			if sleep(ctx, d.retryDelay) != nil {
				return attempts, false
			}
		default:
			panic(fmt.Sprintf("tandem: unsupported send result %v from publisher", result))
		}
	}
	return attempts, false
}

// report passes r to every delivery callback.
func (d *EventDispatcher) report(r DeliveryReport) {
	for _, cb := range d.callbacks {
		invokeCallbackSafe(cb, r, d.logger)
	}
}

// invokeCallbackSafe calls a delivery callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(DeliveryReport), r DeliveryReport, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("delivery callback panicked",
				"panic", rec,
				"event_id", r.EventID,
				"recipient", r.Recipient.String(),
			)
		}
	}()
	cb(r)
}
