// Package statusclient provides an HTTP status backend client for tandem.
//
// This package is internal to tandem and implements [tandem.StatusClient]
// over plain HTTP with a pooled transport. Two clients pointed at equivalent
// backends are what the standalone binary hands to the status poller.
package statusclient
