package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jpalmerr/tandem"
	"github.com/jpalmerr/tandem/internal/statusclient"
)

func main() {
	// two mock backends with different base latency (see mock_server.go)
	go StartMockStatusServer(":9998", 20*time.Millisecond)
	go StartMockStatusServer(":9999", 80*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pollStatuses(ctx); err != nil {
		slog.Error("status polling failed", "error", err)
		os.Exit(1)
	}
	dispatchEvents(ctx)
}

func pollStatuses(ctx context.Context) error {
	primary, err := statusclient.New("http://localhost:9998", nil)
	if err != nil {
		return err
	}
	defer primary.Close()
	secondary, err := statusclient.New("http://localhost:9999", nil)
	if err != nil {
		return err
	}
	defer secondary.Close()

	poller, err := tandem.NewStatusPoller(primary, secondary, tandem.WithTimeout(3*time.Second))
	if err != nil {
		return err
	}

	for _, id := range []string{"app-1", "app-2", "fail-3", "retry-4"} {
		start := time.Now()
		status := poller.GetStatus(ctx, id)
		fmt.Printf("%-8s %-60v %s\n", id, status, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// memorySource hands out a fixed list of events, then reports exhaustion.
type memorySource struct {
	mu     sync.Mutex
	events []tandem.Event
}

func (s *memorySource) ReadNext(ctx context.Context) (tandem.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return tandem.Event{}, err
	}
	if len(s.events) == 0 {
		return tandem.Event{}, tandem.ErrSourceExhausted
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func dispatchEvents(ctx context.Context) {
	source := &memorySource{}
	for i := 1; i <= 6; i++ {
		source.events = append(source.events, tandem.Event{
			ID: fmt.Sprintf("evt-%d", i),
			Recipients: []tandem.Address{
				{DataCenter: "eu-west", NodeID: "n1"},
				{DataCenter: "us-east", NodeID: "n2"},
			},
			Payload: tandem.Payload{Origin: "example", Data: []byte("hello")},
		})
	}

	// us-east rejects every other send to show retries
	var mu sync.Mutex
	rejectNext := true
	publisher := tandem.PublisherFunc(func(ctx context.Context, to tandem.Address, p tandem.Payload) (tandem.SendResult, error) {
		if to.DataCenter != "us-east" {
			return tandem.Accepted, nil
		}
		mu.Lock()
		defer mu.Unlock()
		rejectNext = !rejectNext
		if !rejectNext {
			return tandem.Rejected, nil
		}
		return tandem.Accepted, nil
	})

	dispatcher, err := tandem.NewEventDispatcher(source, publisher,
		tandem.WithConcurrency(3),
		tandem.WithRetryDelay(200*time.Millisecond),
		tandem.WithDeliveryCallback(func(r tandem.DeliveryReport) {
			fmt.Printf("%s -> %-12s %s after %d attempt(s)\n", r.EventID, r.Recipient, r.Outcome, r.Attempts)
		}),
	)
	if err != nil {
		slog.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	dispatcher.Run(ctx)
}
