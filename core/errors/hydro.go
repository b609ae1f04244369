package errors

import stderrors "errors"

// Sentinel errors returned by the native/hydro engine. Handlers map these to
// JSON-RPC error codes; callers should use errors.Is against these values
// rather than matching on message text.
var (
	// ErrPaused is returned when a mutating message reaches an engine that
	// an admin has paused.
	ErrPaused = stderrors.New("hydro: module paused")

	// ErrUnauthorized is returned when the caller lacks the role required
	// for the requested operation (whitelist admin, ICQ manager, ...).
	ErrUnauthorized = stderrors.New("hydro: unauthorized")

	// ErrInvariantViolation is returned when an operation would leave the
	// store in a state that violates a documented invariant (e.g. a split
	// whose parts do not sum to the parent's amount).
	ErrInvariantViolation = stderrors.New("hydro: invariant violation")

	// ErrBadInput is returned for malformed or out-of-range request fields.
	ErrBadInput = stderrors.New("hydro: bad input")

	// ErrNotFound is returned when a referenced lock, proposal, tranche, or
	// round does not exist.
	ErrNotFound = stderrors.New("hydro: not found")
)
