package tandem

import (
	"context"
	"errors"
	"fmt"
)

// ErrSourceExhausted is returned by an [EventSource] that has no more events.
// [io.EOF] is accepted with the same meaning.
var ErrSourceExhausted = errors.New("event source exhausted")

// Address identifies a recipient node.
type Address struct {
	DataCenter string `json:"data_center"`
	NodeID     string `json:"node_id"`
}

// String returns "datacenter/node".
func (a Address) String() string {
	return a.DataCenter + "/" + a.NodeID
}

// Payload is the content delivered to every recipient of an [Event].
// Data is opaque to the dispatcher.
type Payload struct {
	Origin string
	Data   []byte
}

// Event is a unit of work read from an [EventSource].
//
// Recipients are served in order by a single worker. ID is optional and only
// used to correlate log lines and delivery reports.
type Event struct {
	ID         string
	Recipients []Address
	Payload    Payload
}

// SendResult is the outcome of one delivery attempt.
type SendResult int

const (
	// Accepted means the recipient took the payload.
	Accepted SendResult = iota + 1

	// Rejected means the recipient refused the payload; the dispatcher will
	// retry after its configured delay.
	Rejected
)

// String returns "accepted" or "rejected".
func (r SendResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("SendResult(%d)", int(r))
	}
}

// EventSource yields events for an [EventDispatcher].
//
// ReadNext may block until an event is available. It should return ctx's
// error when ctx is cancelled, [ErrSourceExhausted] (or [io.EOF]) when no
// events remain, and any other error for transient failures, which the
// dispatcher logs before reading again.
type EventSource interface {
	ReadNext(ctx context.Context) (Event, error)
}

// Publisher delivers a payload to one recipient.
//
// Publisher does not retry; the dispatcher owns retries. A non-nil error is
// handled like [Rejected].
type Publisher interface {
	Send(ctx context.Context, to Address, payload Payload) (SendResult, error)
}

// PublisherFunc adapts a function to the [Publisher] interface.
type PublisherFunc func(ctx context.Context, to Address, payload Payload) (SendResult, error)

// Send calls f(ctx, to, payload).
func (f PublisherFunc) Send(ctx context.Context, to Address, payload Payload) (SendResult, error) {
	return f(ctx, to, payload)
}

// DeliveryOutcome is the final state of one recipient within an event.
type DeliveryOutcome string

const (
	// OutcomeDelivered means the recipient accepted the payload.
	OutcomeDelivered DeliveryOutcome = "delivered"

	// OutcomeAbandoned means delivery stopped because the dispatcher was
	// cancelled before the recipient accepted the payload.
	OutcomeAbandoned DeliveryOutcome = "abandoned"
)

// DeliveryReport describes how delivery to one recipient ended.
type DeliveryReport struct {
	// EventID is the ID of the event, possibly empty.
	EventID string

	// Recipient is the addressed node.
	Recipient Address

	// Origin is the payload origin.
	Origin string

	// Attempts is the number of Send calls made for this recipient. It is
	// zero for recipients abandoned before their first attempt.
	Attempts int

	// Outcome is delivered or abandoned.
	Outcome DeliveryOutcome
}
