package model

import "errors"

// Failure categories shared by the scanner, runner and API layer.
var (
	// ErrInvalidRequest marks malformed caller input. It is the only
	// category surfaced to callers as a failure.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDataUnavailable marks a symbol with no or too little history.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrExternal marks a provider, broker or timeout failure.
	ErrExternal = errors.New("external call failed")

	// ErrNotFound is returned when a lookup yields nothing.
	ErrNotFound = errors.New("not found")
)

// Category maps an error onto the short label used in scan metadata,
// runner events and metrics.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrExternal):
		return "external"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
