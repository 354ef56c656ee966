// Package errors provides the coded error type used across prefsync.
//
// Every failure the synchronized state cell can meet is registered here
// with a code and category:
//   - unavailable: no storage backend in this environment
//   - read: the stored text could not be fetched or decoded
//   - write: set, encode or delete was rejected by the backend
//   - event: an external change carried an undecodable payload
//   - relay: the change relay could not be reached
//   - config: configuration loading or validation
//
// The cell never returns these to its caller. They reach the diagnostic
// sink, tagged with the slot key:
//
//	err := errors.New("E020").WithKey("theme").Wrap(cause)
//	fmt.Println(err.FormatCompact())
//	// E020: Error writing stored value (key "theme"): disk full
package errors
