package engine

import "errors"

var (
	// ErrValidation marks caller mistakes: empty identifiers, unknown
	// roles, out-of-range budgets or scores. Never retried.
	ErrValidation = errors.New("engine: invalid request")

	// ErrStoreUnavailable is returned when a store operation still fails
	// after the retry policy is exhausted. The turn fails rather than
	// proceed on incomplete memory.
	ErrStoreUnavailable = errors.New("engine: store unavailable")
)
