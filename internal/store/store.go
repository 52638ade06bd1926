package store

import "time"

// DeliveryRecord is the latest delivery outcome for one recipient node.
//
// It is the JSON shape served by the REST API and the SSE stream and is kept
// separate from the dispatcher's report type.
type DeliveryRecord struct {
	// Recipient is "datacenter/node" and keys the record.
	Recipient string `json:"recipient"`

	DataCenter string `json:"data_center"`
	NodeID     string `json:"node_id"`

	// EventID is the event that produced this outcome.
	EventID string `json:"event_id"`

	// Origin is the payload origin.
	Origin string `json:"origin"`

	// Outcome is "delivered" or "abandoned".
	Outcome string `json:"outcome"`

	// Attempts is the number of sends made for this recipient.
	Attempts int `json:"attempts"`

	// At is when the outcome was recorded.
	At time.Time `json:"at"`
}

// Totals counts every outcome recorded since the store was created.
type Totals struct {
	Delivered int64 `json:"delivered"`
	Abandoned int64 `json:"abandoned"`
}

// Store keeps the latest delivery record per recipient and fans new
// records out to subscribers.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update stores a record, replacing any previous record for the same
	// recipient, and notifies all subscribers.
	Update(record DeliveryRecord)

	// GetAll returns a snapshot of stored records ordered by recipient.
	GetAll() []DeliveryRecord

	// Totals returns outcome counts across all updates.
	Totals() Totals

	// Subscribe returns a buffered channel of new records. Slow consumers
	// may miss records. Callers must Unsubscribe when done.
	Subscribe() <-chan DeliveryRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan DeliveryRecord)
}
