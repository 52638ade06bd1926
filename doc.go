// Package tandem provides two resilience primitives for talking to unreliable
// remote collaborators: a redundant-request status poller and a bounded
// fan-out event dispatcher.
//
// # Status Poller
//
// [StatusPoller] asks two equivalent backends for the status of an
// application at the same time and keeps the first answer, cancelling the
// slower call. Backends may ask for a retry after a delay; the poller waits
// and races again until it gets a terminal answer or the overall deadline
// expires:
//
//	poller, _ := tandem.NewStatusPoller(primary, secondary,
//	    tandem.WithTimeout(15 * time.Second),
//	)
//
//	switch st := poller.GetStatus(ctx, "app-42").(type) {
//	case tandem.SuccessStatus:
//	    fmt.Println(st.ApplicationID, st.Status)
//	case tandem.FailureStatus:
//	    fmt.Println("gave up after", st.AttemptCount, "attempts")
//	}
//
// GetStatus never returns an error. Client errors, timeouts and cancellation
// all end in a [FailureStatus].
//
// # Event Dispatcher
//
// [EventDispatcher] drains an [EventSource] and, for each [Event], delivers
// its [Payload] to every listed [Address] through a [Publisher]. Events are
// processed by a fixed number of workers; recipients of one event are served
// in order, and each rejected send is retried after a fixed delay until it is
// accepted or the dispatcher is cancelled:
//
//	d, _ := tandem.NewEventDispatcher(source, publisher,
//	    tandem.WithConcurrency(runtime.NumCPU()),
//	    tandem.WithRetryDelay(500 * time.Millisecond),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	d.Run(ctx) // blocks until cancelled or the source is exhausted
//
// # Architecture
//
// tandem consists of several internal packages (under internal/):
//
//   - internal/pool: Fixed-size worker pool used by the dispatcher
//   - internal/statusclient: HTTP implementation of [StatusClient]
//   - internal/kafkabus: Kafka implementations of [EventSource] and [Publisher]
//   - internal/store: In-memory delivery records with pub/sub
//   - internal/server: HTTP API for status lookups and delivery records
//
// The config package and cmd/tandem wire these into a standalone binary.
package tandem
