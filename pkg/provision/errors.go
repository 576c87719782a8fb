package provision

import "errors"

var (
	// ErrConflict is returned when an active session already exists for the target
	ErrConflict = errors.New("an active session already exists for this target")

	// ErrNotFound is returned when no session exists for the given id
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned when an operation is not valid for the session's current state
	ErrInvalidTransition = errors.New("operation not valid in current session state")

	// ErrInvalidCode is returned when a submitted one-time code was rejected; the session stays open
	ErrInvalidCode = errors.New("one-time code rejected")

	// ErrMaxRetriesExceeded is returned when the code retry budget is exhausted; the session has failed
	ErrMaxRetriesExceeded = errors.New("maximum code attempts exceeded")

	// ErrNoLiveView is returned when the session's agent cannot produce challenge screenshots
	ErrNoLiveView = errors.New("agent does not support a live challenge view")
)
