package task

import "time"

// Trigger identifies one of the two reminder kinds.
type Trigger int

const (
	// TriggerPrimary is the due-day reminder. Policy: it becomes due at the
	// start of the due date's calendar day (00:00 in the configured zone),
	// gated by the persisted PrimarySent flag rather than clock equality,
	// so a restart that slept through midnight still delivers on the next
	// evaluation pass.
	TriggerPrimary Trigger = iota + 1

	// TriggerSecondary is the owner-configured early reminder, due at
	// DueAt - SecondaryOffset hours, gated by SecondarySent.
	TriggerSecondary
)

func (tr Trigger) String() string {
	switch tr {
	case TriggerPrimary:
		return "primary"
	case TriggerSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Outcome is the decision for one (task, now) pair.
//
// Expire and Fires are mutually exclusive: once the grace window after the
// due time has fully elapsed, cleanup wins and nothing is sent. Before
// that, both triggers may be due in the same pass; Fires is ordered,
// primary first.
type Outcome struct {
	Expire bool
	Fires  []Trigger
}

// IsZero reports a no-action outcome (the task is not ripe).
func (o Outcome) IsZero() bool { return !o.Expire && len(o.Fires) == 0 }

// Evaluate is the pure lifecycle decision: given a task, the current time,
// and the cleanup grace window, decide what (if anything) is due. It never
// touches the store and never sends anything; callers execute the returned
// actions and persist the consumed flags only after delivery succeeds.
//
// The primary day-start boundary is computed in now's location, so callers
// must pass now already localized to the configured zone.
func Evaluate(t Task, now time.Time, grace time.Duration) Outcome {
	if grace < 0 {
		grace = 0
	}
	if now.After(t.DueAt.Add(grace)) {
		return Outcome{Expire: true}
	}

	var fires []Trigger
	if !t.PrimarySent && !now.Before(t.DueDayStartIn(now.Location())) {
		fires = append(fires, TriggerPrimary)
	}
	if t.HasSecondary() && !t.SecondarySent && !now.Before(t.SecondaryAt()) {
		fires = append(fires, TriggerSecondary)
	}
	return Outcome{Fires: fires}
}
