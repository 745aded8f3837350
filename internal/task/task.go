package task

import (
	"context"
	"time"
)

// Task is the sole persisted entity. A record exists in the store if and
// only if the task is still pending: completion and expiry both delete it.
type Task struct {
	// ID is assigned by the store on insert; opaque and immutable.
	ID string

	// OwnerID is the Discord user id of the creator. Immutable; used for
	// authorization and as the DM fallback target.
	OwnerID   string
	OwnerName string

	// ChannelID is the channel the task was created in, if any. Preferred
	// notification target.
	ChannelID string

	ClassName      string
	AssignmentName string

	// DueAt is absolute, in the configured fixed time zone. All comparisons
	// against "now" happen in the same zone to avoid DST drift.
	DueAt time.Time

	// SecondaryOffset is the early-reminder offset in whole hours before
	// DueAt. Zero means no secondary reminder was requested.
	SecondaryOffset int

	// SecondarySent is monotone: set true exactly once, after the secondary
	// reminder was delivered. Never reset.
	SecondarySent bool

	// PrimarySent gates the due-day reminder the same way.
	PrimarySent bool

	CreatedAt time.Time
}

// HasSecondary reports whether an early reminder was requested.
func (t Task) HasSecondary() bool { return t.SecondaryOffset > 0 }

// SecondaryAt is the instant the early reminder becomes due.
func (t Task) SecondaryAt() time.Time {
	return t.DueAt.Add(-time.Duration(t.SecondaryOffset) * time.Hour)
}

// DueDayStartIn is midnight of the due date's calendar day in loc; the
// primary reminder becomes due at this instant. The boundary is always
// computed in the caller's configured zone: a timestamp read back from
// storage may carry only a fixed UTC offset, and midnight in that offset
// drifts an hour from local midnight across a DST transition.
func (t Task) DueDayStartIn(loc *time.Location) time.Time {
	y, m, d := t.DueAt.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Store is the persistence contract the lifecycle relies on.
//
// All operations are idempotent at the record level: marking an already-set
// flag, deleting an absent record, and re-running a listing are all safe,
// since the scheduler may retry after a partial failure.
type Store interface {
	// Insert assigns and returns the record id.
	Insert(ctx context.Context, t Task) (string, error)
	Get(ctx context.Context, id string) (Task, error)

	// List returns every pending task.
	List(ctx context.Context) ([]Task, error)
	// ListDueBetween returns tasks with a <= DueAt <= b.
	ListDueBetween(ctx context.Context, a, b time.Time) ([]Task, error)
	// ListDueBefore returns tasks with DueAt < threshold.
	ListDueBefore(ctx context.Context, threshold time.Time) ([]Task, error)
	// ListSecondaryPending returns tasks with a secondary offset set and the
	// secondary reminder not yet delivered.
	ListSecondaryPending(ctx context.Context) ([]Task, error)

	// Field-level updates; whole-record overwrites are deliberately absent
	// so concurrent single-field mutations cannot lose each other.
	SetSecondaryOffset(ctx context.Context, id string, hours int) error
	MarkPrimarySent(ctx context.Context, id string) error
	MarkSecondarySent(ctx context.Context, id string) error

	Delete(ctx context.Context, id string) error
	Close() error
}
