package tandem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

const defaultPollTimeout = 15 * time.Second

// StatusClient queries one backend for the status of an application.
//
// Implementations must honor ctx and return promptly once it is cancelled:
// the poller cancels the slower of its two clients as soon as the other one
// answers. Returning an error is allowed and ends the poll with a
// [FailureStatus]. Returning a nil [Response] with a nil error is a contract
// violation.
type StatusClient interface {
	GetStatus(ctx context.Context, id string) (Response, error)
}

// StatusClientFunc adapts a function to the [StatusClient] interface.
type StatusClientFunc func(ctx context.Context, id string) (Response, error)

// GetStatus calls f(ctx, id).
func (f StatusClientFunc) GetStatus(ctx context.Context, id string) (Response, error) {
	return f(ctx, id)
}

// StatusPoller resolves the status of an application by racing two
// equivalent backends.
//
// Each attempt sends the same request to both clients and keeps whichever
// answer arrives first; the other call is cancelled. A [RetryResponse] makes
// the poller wait for the requested delay and race again, with no cap on the
// number of attempts. The whole call is bounded by the configured timeout.
//
// StatusPoller holds no per-call state and is safe for concurrent use.
type StatusPoller struct {
	primary   StatusClient
	secondary StatusClient
	timeout   time.Duration
	clock     Clock
	logger    *slog.Logger
}

// NewStatusPoller creates a [StatusPoller] over two clients.
//
// Defaults:
//   - Timeout: 15 seconds
//   - Clock: [SystemClock]
//   - Logger: [slog.Default]
//
// Returns an error if either client is nil or an option is invalid.
func NewStatusPoller(primary, secondary StatusClient, opts ...PollerOption) (*StatusPoller, error) {
	if primary == nil || secondary == nil {
		return nil, errors.New("two status clients are required")
	}

	cfg := &pollerConfig{
		timeout: defaultPollTimeout,
		clock:   SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusPoller{
		primary:   primary,
		secondary: secondary,
		timeout:   cfg.timeout,
		clock:     cfg.clock,
		logger:    logger,
	}, nil
}

// Timeout returns the overall deadline applied to each [StatusPoller.GetStatus] call.
func (p *StatusPoller) Timeout() time.Duration {
	return p.timeout
}

// GetStatus polls both backends until one of them reports a terminal
// response or the deadline expires.
//
// The deadline starts when GetStatus is called and is derived from ctx, so
// cancelling ctx also ends the poll. GetStatus never returns an error: client
// errors, client panics, deadline expiry and cancellation all become a
// [FailureStatus] carrying the time and count of the attempts made so far.
//
// GetStatus panics if a client returns a nil or unknown [Response].
func (p *StatusPoller) GetStatus(ctx context.Context, id string) ApplicationStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		lastAttempt time.Time
		attempts    int
	)
	failure := func() FailureStatus {
		return FailureStatus{LastAttemptTime: lastAttempt, AttemptCount: attempts}
	}

	for {
		lastAttempt = p.clock.Now()
		attempts++

		resp, err := p.race(ctx, id)
		if err != nil {
			p.logFailure(ctx, id, attempts, err)
			return failure()
		}

		switch r := resp.(type) {
		case RetryResponse:
			p.logger.Warn("retry requested",
				"app_id", id,
				"attempt", attempts,
				"delay", r.Delay.String(),
			)
			if err := sleep(ctx, r.Delay); err != nil {
				p.logFailure(ctx, id, attempts, err)
				return failure()
			}
		case FailureResponse:
			p.logger.Debug("failure response received", "app_id", id, "attempt", attempts)
			return failure()
		case SuccessResponse:
			p.logger.Debug("success response received", "app_id", id, "attempt", attempts, "status", r.Status)
			return SuccessStatus{ApplicationID: r.ID, Status: r.Status}
		default:
			panic(fmt.Sprintf("tandem: unsupported response %T from status client", resp))
		}
	}
}

// raceResult is what one racing client call produced.
type raceResult struct {
	resp Response
	err  error
}

// race issues the request to both clients and returns the first answer.
//
// The loser is cancelled through raceCtx, a child of ctx. Because only the
// first result is ever read, a cancellation error raised by the loser never
// reaches the caller; an error returned here is either the winner's own error
// or ctx's error when the deadline fires before anyone answers.
func (p *StatusPoller) race(ctx context.Context, id string) (Response, error) {
	raceCtx, cancelLoser := context.WithCancel(ctx)
	defer cancelLoser()

	// buffered so the loser can always deliver and exit
	results := make(chan raceResult, 2)
	for _, c := range []StatusClient{p.primary, p.secondary} {
		go func(c StatusClient) {
			resp, err := p.safeCall(raceCtx, c, id)
			results <- raceResult{resp: resp, err: err}
		}(c)
	}

	select {
	case r := <-results:
		cancelLoser()
		if r.err != nil {
			return nil, r.err
		}
		if r.resp == nil {
			panic("tandem: status client returned nil response without error")
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// safeCall invokes the client with panic recovery. A panicking client is
// treated like a client returning an error; the stack is logged under a
// correlation id that is also placed in the returned error.
func (p *StatusPoller) safeCall(ctx context.Context, c StatusClient, id string) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("status client panic",
				"correlation_id", correlationID,
				"app_id", id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			resp = nil
			err = fmt.Errorf("status client panic (correlation_id: %s)", correlationID)
		}
	}()
	return c.GetStatus(ctx, id)
}

// logFailure logs why a poll ended early. Deadline expiry and cancellation
// are expected outcomes and stay at info level.
func (p *StatusPoller) logFailure(ctx context.Context, id string, attempts int, err error) {
	if ctx.Err() != nil {
		p.logger.Info("status poll stopped",
			"app_id", id,
			"attempt", attempts,
			"reason", ctx.Err().Error(),
		)
		return
	}
	p.logger.Error("status poll failed",
		"app_id", id,
		"attempt", attempts,
		"error", err.Error(),
	)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
