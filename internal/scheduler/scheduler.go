// Package scheduler runs the minute pass that turns stored tasks into
// delivered reminders and retires expired records.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t1modo/NotiTron/internal/eventbus"
	"github.com/t1modo/NotiTron/internal/notify"
	"github.com/t1modo/NotiTron/internal/task"
	"github.com/t1modo/NotiTron/pkg/logx"
)

const defaultGrace = 24 * time.Hour

type Config struct {
	Enabled  bool
	Timezone string
	// GraceWindow is how long past DueAt a task survives before it is
	// silently retired.
	GraceWindow time.Duration
}

// Service owns the cron loop. One pass per minute; passes never overlap.
type Service struct {
	store task.Store
	port  notify.Port
	bus   eventbus.Bus
	log   logx.Logger

	loc *time.Location
	now func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	grace   time.Duration
	enabled bool
	// lastPass detects wall-clock regressions between passes.
	lastPass time.Time
}

func New(store task.Store, port notify.Port, bus eventbus.Bus, cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "America/Los_Angeles"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load timezone %q: %w", tz, err)
	}
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Service{
		store:   store,
		port:    port,
		bus:     bus,
		log:     log.With(logx.String("comp", "scheduler")),
		loc:     loc,
		now:     time.Now,
		grace:   grace,
		enabled: cfg.Enabled,
	}, nil
}

// SetClock swaps the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Location is the zone every pass evaluates in. Intake parses due times in
// the same zone so stored instants and pass comparisons never drift.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	cl := cronLog{s.log}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Second)
		defer cancel()
		s.pass(ctx)
	}); err != nil {
		return fmt.Errorf("scheduler: schedule pass: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info("scheduler started", logx.String("timezone", s.loc.String()), logx.Duration("grace", s.grace))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop() // waits for a running pass
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply updates tunables from a reloaded config. Timezone changes need a
// process restart and are only reported.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.GraceWindow > 0 {
		s.grace = cfg.GraceWindow
	}
	s.enabled = cfg.Enabled
	if cfg.Timezone != "" && cfg.Timezone != s.loc.String() {
		s.log.Warn("timezone change takes effect on restart",
			logx.String("active", s.loc.String()), logx.String("requested", cfg.Timezone))
	}
}

// pass walks every candidate task once against a single captured now.
func (s *Service) pass(ctx context.Context) {
	now := s.now().In(s.loc)

	s.mu.Lock()
	grace := s.grace
	if !s.lastPass.IsZero() && now.Before(s.lastPass) {
		s.log.Warn("wall clock moved backwards between passes",
			logx.Time("previous", s.lastPass), logx.Time("now", now))
	}
	s.lastPass = now
	s.mu.Unlock()

	candidates, err := s.collect(ctx, now)
	if err != nil {
		s.log.Error("pass aborted: store listing failed", logx.Err(err))
		return
	}

	var sent, expired, failed int
	for _, t := range candidates {
		out := task.Evaluate(t, now, grace)
		if out.IsZero() {
			continue
		}
		if out.Expire {
			if err := s.store.Delete(ctx, t.ID); err != nil {
				s.log.Error("expired task delete failed", logx.String("task_id", t.ID), logx.Err(err))
				continue
			}
			expired++
			s.log.Warn("task expired unnotified past grace window",
				logx.String("task_id", t.ID),
				logx.String("assignment", t.AssignmentName),
				logx.Time("due_at", t.DueAt))
			s.publish(eventbus.TypeTaskExpired, t.ID)
			continue
		}
		for _, trig := range out.Fires {
			if err := s.deliver(ctx, t, trig); err != nil {
				failed++
				s.log.Error("reminder send failed, will retry next pass",
					logx.String("task_id", t.ID),
					logx.String("trigger", trig.String()),
					logx.Err(err))
				s.publish(eventbus.TypeSendFailed, t.ID)
				continue
			}
			sent++
			s.publish(eventbus.TypeReminderSent, t.ID)
		}
	}

	if sent > 0 || expired > 0 || failed > 0 {
		s.log.Info("pass complete",
			logx.Int("candidates", len(candidates)),
			logx.Int("sent", sent),
			logx.Int("expired", expired),
			logx.Int("failed", failed))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTickDone, Data: map[string]int{
			"candidates": len(candidates), "sent": sent, "expired": expired, "failed": failed,
		}})
	}
}

// collect unions the two ripeness queries, deduplicating by id. Tasks due
// later today are included so the day-start reminder fires even though
// DueAt itself is hours away.
func (s *Service) collect(ctx context.Context, now time.Time) ([]task.Task, error) {
	y, m, d := now.Date()
	endOfDay := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)

	due, err := s.store.ListDueBefore(ctx, endOfDay)
	if err != nil {
		return nil, fmt.Errorf("list due: %w", err)
	}
	pending, err := s.store.ListSecondaryPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list secondary pending: %w", err)
	}

	seen := make(map[string]struct{}, len(due)+len(pending))
	out := make([]task.Task, 0, len(due)+len(pending))
	for _, t := range append(due, pending...) {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// deliver sends one reminder and records the send. The sent flag flips only
// after delivery succeeded, so a failed send is retried next pass.
func (s *Service) deliver(ctx context.Context, t task.Task, trig task.Trigger) error {
	target := notify.Target{ChannelID: t.ChannelID, UserID: t.OwnerID}
	if err := s.port.Send(ctx, target, reminderText(t, trig)); err != nil {
		return err
	}

	var err error
	switch trig {
	case task.TriggerPrimary:
		err = s.store.MarkPrimarySent(ctx, t.ID)
	case task.TriggerSecondary:
		err = s.store.MarkSecondarySent(ctx, t.ID)
	}
	if err != nil {
		// Delivered but unrecorded: the next pass may send a duplicate,
		// which beats losing the reminder.
		return fmt.Errorf("mark %s sent: %w", trig, err)
	}
	return nil
}

func reminderText(t task.Task, trig task.Trigger) string {
	due := t.DueAt.Format("Mon Jan 2 at 3:04PM")
	switch trig {
	case task.TriggerSecondary:
		return fmt.Sprintf("<@%s> ⏰ **%s** for **%s** is due in %d hour(s) — %s.",
			t.OwnerID, t.AssignmentName, t.ClassName, t.SecondaryOffset, due)
	default:
		return fmt.Sprintf("<@%s> 📌 **%s** for **%s** is due today — %s.",
			t.OwnerID, t.AssignmentName, t.ClassName, due)
	}
}

func (s *Service) publish(typ, taskID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: taskID})
}

// cronLog adapts logx to cron's logger contract.
type cronLog struct{ log logx.Logger }

func (c cronLog) Info(msg string, kv ...any) {
	c.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (c cronLog) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
