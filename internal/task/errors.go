package task

import "errors"

// Sentinel errors distinguish the failure classes callers react to
// differently: validation errors come from bad input, authorization errors
// from non-owners, and store errors pass through wrapped.
var (
	ErrNotFound = errors.New("task not found")

	// ErrNotOwner is the authorization failure: only the task's creator may
	// configure reminders or complete the task.
	ErrNotOwner = errors.New("not the task owner")

	// ErrInvalidOffset rejects a secondary offset that is not a positive
	// whole-hour count strictly less than the time remaining until DueAt.
	// Offsets whose reminder instant already passed are rejected, not fired.
	ErrInvalidOffset = errors.New("invalid reminder offset")

	// ErrOffsetAlreadySet rejects reconfiguring a secondary reminder; the
	// offset is set at most once.
	ErrOffsetAlreadySet = errors.New("reminder offset already set")

	// ErrPastDue rejects creating a task whose due time is not in the future.
	ErrPastDue = errors.New("due time is in the past")

	ErrMissingField = errors.New("missing required field")
)
