package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrClosed is returned by [Pool.Submit] after the pool has been shut down.
var ErrClosed = errors.New("pool is closed")

// Handler processes one item. It runs on a worker goroutine.
type Handler[T any] func(item T)

// Stats is a point-in-time view of a [Pool].
type Stats struct {
	// InFlight is the number of items currently being handled.
	InFlight int64

	// Peak is the highest InFlight value observed since the pool started.
	Peak int64

	// Completed is the number of items whose handler has returned.
	Completed int64

	// Discarded is the number of queued items dropped by [Pool.Discard].
	Discarded int64
}

// Pool runs a [Handler] over submitted items with at most Size items in
// progress at any time.
//
// Submit is meant to be called from a single producer and must not race with
// Drain or Discard. Only the first shutdown call has an effect; later calls
// just wait for the workers.
type Pool[T any] struct {
	size    int
	handle  Handler[T]
	logger  *slog.Logger
	jobs    chan T
	discard chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	stopOnce sync.Once

	inFlight  atomic.Int64
	peak      atomic.Int64
	completed atomic.Int64
	discarded atomic.Int64
}

// New creates a [Pool] with size workers and a queue holding up to
// queueSize items waiting for a worker.
//
// Returns an error if size is not positive or queueSize is negative.
func New[T any](size, queueSize int, handle Handler[T], logger *slog.Logger) (*Pool[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("queue size cannot be negative, got %d", queueSize)
	}
	if handle == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		size:    size,
		handle:  handle,
		logger:  logger,
		jobs:    make(chan T, queueSize),
		discard: make(chan struct{}),
	}, nil
}

// Size returns the concurrency ceiling.
func (p *Pool[T]) Size() int {
	return p.size
}

// Start launches the workers. Start is idempotent.
func (p *Pool[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.worker()
	}
}

// Submit hands item to the pool, blocking while the queue is full.
//
// Returns ctx's error if ctx is done before the item is accepted, and
// [ErrClosed] if the pool has been shut down.
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// fast-exit so a cancelled producer never wins a race against a free slot
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.jobs <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain closes the pool to new items and blocks until every queued and
// running item has been handled.
func (p *Pool[T]) Drain() {
	p.shutdown(false)
}

// Discard closes the pool to new items, stops workers from taking queued
// items and blocks until running items return. It reports how many queued
// items were dropped.
func (p *Pool[T]) Discard() int {
	p.shutdown(true)
	return int(p.discarded.Load())
}

// Stats returns current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		InFlight:  p.inFlight.Load(),
		Peak:      p.peak.Load(),
		Completed: p.completed.Load(),
		Discarded: p.discarded.Load(),
	}
}

func (p *Pool[T]) shutdown(discard bool) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		started := p.started
		p.mu.Unlock()

		if discard {
			close(p.discard)
		}
		close(p.jobs)
		if !started {
			// nobody will ever read the queue
			if !discard {
				p.logger.Debug("pool drained before start; running queued items inline")
				for item := range p.jobs {
					p.run(item)
				}
				return
			}
		}
		p.wg.Wait()

		// whatever the workers left behind after a discard
		for range p.jobs {
			p.discarded.Add(1)
		}
	})
	p.wg.Wait()
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for {
		// fast-exit so discard wins over queued work
		select {
		case <-p.discard:
			return
		default:
		}

		select {
		case <-p.discard:
			return
		case item, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(item)
		}
	}
}

// run handles one item with in-flight accounting. A panicking handler is a
// programming error: the panic is logged with a correlation id and re-raised.
func (p *Pool[T]) run(item T) {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.logger.Error("pool handler panic",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			panic(r)
		}
	}()
	p.handle(item)
}
