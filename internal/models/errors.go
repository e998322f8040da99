package models

import "errors"

// Domain error taxonomy. Expected conditions are sentinels so callers can
// branch with errors.Is; anything else wrapping these is an internal fault.
var (
	// ErrRateLimited is returned by a fetch adapter when the upstream API
	// itself reported a rate limit, as opposed to local budget exhaustion.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrDuplicateAccount is returned when registering a handle that is
	// already monitored.
	ErrDuplicateAccount = errors.New("account already monitored")

	// ErrStaleCursor is returned when a cursor advance does not represent
	// progress over the stored value.
	ErrStaleCursor = errors.New("stale cursor")

	// ErrDailyCapExceeded is returned when accepting a signal would push the
	// day's count past the configured maximum.
	ErrDailyCapExceeded = errors.New("daily signal cap exceeded")

	// ErrAccountNotFound is returned for operations on unknown account IDs.
	ErrAccountNotFound = errors.New("account not found")
)
