// Package pool provides a fixed-size worker pool for tandem.
//
// This package is internal to tandem and bounds how many items are processed
// at once. Items are submitted through a bounded queue and handed to a fixed
// number of worker goroutines.
//
// The main components are:
//
//   - [Pool]: Worker pool with a concurrency ceiling and a bounded queue
//   - [Stats]: Snapshot of in-flight, peak and completed counts
//
// A pool is shut down either with [Pool.Drain], which lets workers finish every
// queued item, or with [Pool.Discard], which stops workers from taking new
// items and drops whatever is still queued.
package pool
