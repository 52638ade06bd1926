// Package kafkabus connects the tandem event dispatcher to Kafka.
//
// [Source] reads JSON event envelopes from a consumer-group topic and
// implements [tandem.EventSource]. [Publisher] writes payloads to a topic per
// data center, keyed by node id, and implements [tandem.Publisher].
//
// Envelope format:
//
//	{
//	  "id": "evt-1",
//	  "recipients": [{"data_center": "eu-west", "node_id": "n1"}],
//	  "payload": {"origin": "billing", "data": "aGVsbG8="}
//	}
//
// The data field is base64 encoded and passed through untouched.
package kafkabus
