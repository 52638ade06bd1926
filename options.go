package tandem

import (
	"errors"
	"log/slog"
	"time"
)

// pollerConfig holds mutable state during StatusPoller construction.
type pollerConfig struct {
	timeout time.Duration
	clock   Clock
	logger  *slog.Logger
}

// PollerOption configures a [StatusPoller] during construction.
//
// Built-in options: [WithTimeout], [WithClock], [WithPollerLogger].
type PollerOption func(*pollerConfig) error

// WithTimeout sets the overall deadline of each [StatusPoller.GetStatus] call.
//
// The deadline covers every attempt and every retry wait. A zero timeout
// expires immediately, so the first attempt ends in a [FailureStatus].
// Defaults to 15 seconds if not specified.
//
// Returns an error if the duration is negative.
func WithTimeout(d time.Duration) PollerOption {
	return func(cfg *pollerConfig) error {
		if d < 0 {
			return errors.New("timeout cannot be negative")
		}
		cfg.timeout = d
		return nil
	}
}

// WithClock sets the [Clock] used to stamp attempts.
//
// Returns an error if the clock is nil.
func WithClock(c Clock) PollerOption {
	return func(cfg *pollerConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithPollerLogger sets a custom [slog.Logger] for the poller.
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(cfg *pollerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// dispatcherConfig holds mutable state during EventDispatcher construction.
type dispatcherConfig struct {
	concurrency  int
	queueSize    int
	retryDelay   time.Duration
	policy       QueuePolicy
	drainTimeout time.Duration
	sendRate     float64
	sendBurst    int
	logger       *slog.Logger
	callbacks    []func(DeliveryReport)
}

// DispatcherOption configures an [EventDispatcher] during construction.
//
// Built-in options: [WithConcurrency], [WithQueueSize], [WithRetryDelay],
// [WithQueuePolicy], [WithDrainTimeout], [WithSendRate],
// [WithDispatcherLogger], [WithDeliveryCallback].
type DispatcherOption func(*dispatcherConfig) error

// WithConcurrency sets how many events may be processed at the same time.
//
// The value is used as is; callers that want one worker per CPU pass
// runtime.NumCPU() explicitly. Defaults to 4 if not specified.
//
// Example:
//
//	d, err := tandem.NewEventDispatcher(src, pub,
//	    tandem.WithConcurrency(runtime.NumCPU()),
//	)
//
// Returns an error if the value is zero or negative.
func WithConcurrency(n int) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if n <= 0 {
			return errors.New("concurrency must be positive")
		}
		cfg.concurrency = n
		return nil
	}
}

// WithQueueSize sets how many read events may wait for a free worker.
//
// When the queue is full the read loop blocks, which in turn stops reading
// from the source. Zero means every event is handed directly to an idle
// worker. Defaults to the concurrency if not specified.
//
// Returns an error if the value is negative.
func WithQueueSize(n int) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if n < 0 {
			return errors.New("queue size cannot be negative")
		}
		cfg.queueSize = n
		return nil
	}
}

// WithRetryDelay sets the wait between a rejected send and its retry.
// Defaults to 1 second if not specified.
//
// Returns an error if the duration is negative.
func WithRetryDelay(d time.Duration) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if d < 0 {
			return errors.New("retry delay cannot be negative")
		}
		cfg.retryDelay = d
		return nil
	}
}

// WithQueuePolicy selects what happens to queued events on cancellation.
// Defaults to [DrainQueued].
//
// Returns an error for an unknown policy.
func WithQueuePolicy(p QueuePolicy) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if p != DrainQueued && p != DropQueued {
			return errors.New("unknown queue policy")
		}
		cfg.policy = p
		return nil
	}
}

// WithDrainTimeout lets deliveries keep running for d after the dispatcher
// is cancelled. Reading stops immediately either way.
//
// With the default of zero, deliveries observe cancellation right away.
//
// Returns an error if the duration is negative.
func WithDrainTimeout(d time.Duration) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if d < 0 {
			return errors.New("drain timeout cannot be negative")
		}
		cfg.drainTimeout = d
		return nil
	}
}

// WithSendRate caps the number of Send calls per second across all workers.
//
// Burst is the number of sends allowed back to back; values below 1 are
// treated as 1. A rate of zero disables the limit, which is the default.
//
// Returns an error if the rate is negative.
func WithSendRate(perSecond float64, burst int) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if perSecond < 0 {
			return errors.New("send rate cannot be negative")
		}
		cfg.sendRate = perSecond
		cfg.sendBurst = burst
		return nil
	}
}

// WithDispatcherLogger sets a custom [slog.Logger] for the dispatcher.
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithDeliveryCallback registers a function called once per recipient when
// its delivery ends, either delivered or abandoned.
//
// Callbacks run on worker goroutines, possibly concurrently, and must be
// safe for concurrent use. They should not block: a slow callback holds a
// worker slot. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithDeliveryCallback(cb func(DeliveryReport)) DispatcherOption {
	return func(cfg *dispatcherConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
