// Package server provides the HTTP API of the tandem binary.
//
// It serves one-off status polls, a snapshot of delivery records and a
// Server-Sent Events stream of new records. Shutdown follows the context
// passed to [Server.Start], with a 5-second grace period for in-flight
// requests.
package server
