// Package store keeps the latest delivery outcome per recipient node.
//
// [MemoryStore] is fed from the dispatcher's delivery callbacks and read by
// the HTTP server, which serves snapshots and streams new records to SSE
// clients through the pub/sub channels.
package store
