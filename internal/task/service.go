package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/t1modo/NotiTron/internal/eventbus"
	logx "github.com/t1modo/NotiTron/pkg/logx"
)

// Service owns the task mutations reachable from the interaction surface:
// creation, secondary-reminder configuration, and completion. The scheduler
// mutates tasks separately through the Store, gated by Evaluate.
type Service struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewService(store Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, bus: bus, log: log, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// NewTask carries the already-parsed creation input. Date/time parsing is
// the intake layer's responsibility; DueAt arrives as an absolute instant
// in the configured zone.
type NewTask struct {
	OwnerID        string
	OwnerName      string
	ChannelID      string
	ClassName      string
	AssignmentName string
	DueAt          time.Time
}

func (s *Service) Create(ctx context.Context, in NewTask) (Task, error) {
	switch {
	case strings.TrimSpace(in.OwnerID) == "":
		return Task{}, fmt.Errorf("%w: owner_id", ErrMissingField)
	case strings.TrimSpace(in.ClassName) == "":
		return Task{}, fmt.Errorf("%w: class_name", ErrMissingField)
	case strings.TrimSpace(in.AssignmentName) == "":
		return Task{}, fmt.Errorf("%w: assignment_name", ErrMissingField)
	case in.DueAt.IsZero():
		return Task{}, fmt.Errorf("%w: due_at", ErrMissingField)
	}

	now := s.now()
	if !in.DueAt.After(now) {
		return Task{}, ErrPastDue
	}

	t := Task{
		OwnerID:        in.OwnerID,
		OwnerName:      in.OwnerName,
		ChannelID:      in.ChannelID,
		ClassName:      strings.TrimSpace(in.ClassName),
		AssignmentName: strings.TrimSpace(in.AssignmentName),
		DueAt:          in.DueAt,
		CreatedAt:      now,
	}

	id, err := s.store.Insert(ctx, t)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id

	s.publish(eventbus.TypeTaskCreated, t)
	s.log.Info("task created",
		logx.String("task", t.ID),
		logx.String("class", t.ClassName),
		logx.String("assignment", t.AssignmentName),
		logx.Time("due_at", t.DueAt))
	return t, nil
}

// SetSecondaryReminder records the owner's early-reminder choice.
//
// The offset is accepted at most once, must be a positive whole-hour count,
// and must land strictly before the due time from the caller's "now" —
// an offset whose reminder instant already passed is rejected outright.
func (s *Service) SetSecondaryReminder(ctx context.Context, taskID, requesterID string, hours int) (Task, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.OwnerID != requesterID {
		return Task{}, ErrNotOwner
	}
	if t.SecondaryOffset != 0 || t.SecondarySent {
		return Task{}, ErrOffsetAlreadySet
	}
	if hours <= 0 {
		return Task{}, fmt.Errorf("%w: %d hours", ErrInvalidOffset, hours)
	}
	if remaining := t.DueAt.Sub(s.now()); time.Duration(hours)*time.Hour >= remaining {
		return Task{}, fmt.Errorf("%w: %d hours exceeds time remaining", ErrInvalidOffset, hours)
	}

	if err := s.store.SetSecondaryOffset(ctx, taskID, hours); err != nil {
		return Task{}, fmt.Errorf("set secondary offset: %w", err)
	}
	t.SecondaryOffset = hours

	s.log.Info("secondary reminder set",
		logx.String("task", t.ID),
		logx.Int("hours", hours),
		logx.Time("fires_at", t.SecondaryAt()))
	return t, nil
}

// Complete deletes the task, which cancels every further notification:
// once the record is gone no trigger can evaluate against it.
func (s *Service) Complete(ctx context.Context, taskID, requesterID string) (Task, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.OwnerID != requesterID {
		return Task{}, ErrNotOwner
	}

	if err := s.store.Delete(ctx, taskID); err != nil {
		return Task{}, fmt.Errorf("delete task: %w", err)
	}

	s.publish(eventbus.TypeTaskCompleted, t)
	s.log.Info("task completed",
		logx.String("task", t.ID),
		logx.String("assignment", t.AssignmentName))
	return t, nil
}

// UpcomingFor lists the requester's tasks due within the window, soonest
// first.
func (s *Service) UpcomingFor(ctx context.Context, ownerID string, window time.Duration) ([]Task, error) {
	now := s.now()
	all, err := s.store.ListDueBetween(ctx, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	out := all[:0]
	for _, t := range all {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) publish(typ string, t Task) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{
		"task":       t.ID,
		"owner":      t.OwnerID,
		"assignment": t.AssignmentName,
	}})
}
