package kafkabus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jpalmerr/tandem"
)

type envelope struct {
	ID         string           `json:"id,omitempty"`
	Recipients []tandem.Address `json:"recipients"`
	Payload    payloadJSON      `json:"payload"`
}

type payloadJSON struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

// Decode parses a JSON envelope into an event.
func Decode(b []byte) (tandem.Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return tandem.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Recipients) == 0 {
		return tandem.Event{}, errors.New("decode envelope: no recipients")
	}
	for i, r := range env.Recipients {
		if r.DataCenter == "" || r.NodeID == "" {
			return tandem.Event{}, fmt.Errorf("decode envelope: recipient %d: data_center and node_id are required", i)
		}
	}
	return tandem.Event{
		ID:         env.ID,
		Recipients: env.Recipients,
		Payload:    tandem.Payload{Origin: env.Payload.Origin, Data: env.Payload.Data},
	}, nil
}

// Encode renders ev as a JSON envelope.
func Encode(ev tandem.Event) ([]byte, error) {
	return json.Marshal(envelope{
		ID:         ev.ID,
		Recipients: ev.Recipients,
		Payload:    payloadJSON{Origin: ev.Payload.Origin, Data: ev.Payload.Data},
	})
}
