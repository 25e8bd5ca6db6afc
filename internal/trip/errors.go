package trip

import "errors"

var (
	// ErrInvalidInput marks a malformed fix. It is a caller bug and is not retried.
	ErrInvalidInput = errors.New("invalid fix")
	// ErrStorage wraps PointStore failures. Point appends are idempotent, so retrying is safe.
	ErrStorage = errors.New("trip storage failure")
	// ErrTripClosed is returned when ingesting into a terminated or read-only record
	ErrTripClosed = errors.New("trip is closed")
)
