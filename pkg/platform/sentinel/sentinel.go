package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors with the right code.
//
// These describe the state of a record, not the validity of a request:
// - ErrNotFound: no record with that id
// - ErrConflict: optimistic version check failed, someone else won the write
// - ErrInvalidState: record exists but is in the wrong lifecycle state
// - ErrUnavailable: backing store temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
