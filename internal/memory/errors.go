package memory

import "errors"

// Sentinel errors returned by Store implementations.
var (
	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("memory: session not found")

	// ErrMessageNotFound indicates an unknown message ID.
	ErrMessageNotFound = errors.New("memory: message not found")

	// ErrSummaryNotFound indicates an unknown summary ID.
	ErrSummaryNotFound = errors.New("memory: summary not found")

	// ErrAlreadySummarized indicates a CreateSummary batch containing a
	// message that is already subsumed by another summary. The losing side
	// of a concurrent compression race sees this (or an empty eligible
	// set on retry) and must treat it as a no-op, not a failure.
	ErrAlreadySummarized = errors.New("memory: message already summarized")

	// ErrSessionOwner indicates a session addressed with the wrong user ID.
	ErrSessionOwner = errors.New("memory: session belongs to a different user")
)
