// Package intake turns transport updates (slash commands, button presses)
// into task service calls and user-facing replies.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/t1modo/NotiTron/internal/task"
	kit "github.com/t1modo/NotiTron/internal/transport"
	"github.com/t1modo/NotiTron/pkg/logx"
)

const (
	handleTimeout = 10 * time.Second
	// upcomingWindow bounds /tasks output; anything further out is noise.
	upcomingWindow = 30 * 24 * time.Hour
)

var defaultOfferedHours = []int{1, 3, 6, 12}

type Config struct {
	// GuildID restricts the bot to one server; updates from anywhere else
	// are dropped.
	GuildID string
	// OfferedHours are the secondary-reminder choices shown as buttons.
	OfferedHours []int
	Location     *time.Location
}

type Router struct {
	svc     *task.Service
	adapter kit.Adapter
	log     logx.Logger

	guildID string
	hours   []int
	loc     *time.Location
}

func NewRouter(svc *task.Service, adapter kit.Adapter, cfg Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	hours := cfg.OfferedHours
	if len(hours) == 0 {
		hours = defaultOfferedHours
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Router{
		svc:     svc,
		adapter: adapter,
		log:     log.With(logx.String("comp", "intake")),
		guildID: cfg.GuildID,
		hours:   hours,
		loc:     loc,
	}
}

// DispatchLoop drains updates until the context ends or the channel closes.
// Updates are handled inline; the adapter's bounded channel absorbs bursts.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			r.dispatch(hctx, up)
			cancel()
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateCommand:
		if up.Command == nil || !r.inGuild(up.Command.GuildID) {
			return
		}
		r.handleCommand(ctx, *up.Command)
	case kit.UpdateComponent:
		if up.Component == nil || !r.inGuild(up.Component.GuildID) {
			return
		}
		r.handleComponent(ctx, *up.Component)
	}
}

func (r *Router) inGuild(guildID string) bool {
	if r.guildID == "" {
		return true
	}
	if guildID == r.guildID {
		return true
	}
	r.log.Debug("update from foreign guild dropped", logx.String("guild", guildID))
	return false
}

func (r *Router) handleCommand(ctx context.Context, cmd kit.Command) {
	switch cmd.Name {
	case "add_task":
		r.addTask(ctx, cmd)
	case "complete":
		r.complete(ctx, cmd)
	case "tasks":
		r.listTasks(ctx, cmd)
	default:
		r.log.Warn("unknown command", logx.String("name", cmd.Name))
	}
}

func (r *Router) addTask(ctx context.Context, cmd kit.Command) {
	dueAt, err := ParseDue(cmd.Options["due_date"], cmd.Options["due_time"], r.loc)
	if err != nil {
		r.ephemeral(ctx, cmd.Raw, "❌ "+err.Error())
		return
	}

	t, err := r.svc.Create(ctx, task.NewTask{
		OwnerID:        cmd.UserID,
		OwnerName:      cmd.UserName,
		ChannelID:      cmd.ChannelID,
		ClassName:      cmd.Options["class_name"],
		AssignmentName: cmd.Options["assignment_name"],
		DueAt:          dueAt,
	})
	if err != nil {
		r.ephemeral(ctx, cmd.Raw, createErrorText(err))
		return
	}

	buttons := make([]kit.Button, 0, len(r.hours)+1)
	for _, h := range r.hours {
		buttons = append(buttons, kit.Button{
			Label:    fmt.Sprintf("Remind %dh before", h),
			CustomID: fmt.Sprintf("remind:%s:%d", t.ID, h),
			Style:    "primary",
		})
	}
	buttons = append(buttons, kit.Button{
		Label:    "Mark complete",
		CustomID: "complete:" + t.ID,
		Style:    "danger",
	})

	text := fmt.Sprintf("📝 Task added: **%s** for **%s**, due %s.\nWant an extra heads-up before it's due?",
		t.AssignmentName, t.ClassName, t.DueAt.Format("Mon Jan 2 at 3:04PM"))
	if err := r.adapter.Respond(ctx, cmd.Raw, kit.Response{Text: text, Buttons: buttons}); err != nil {
		r.log.Error("add_task respond failed", logx.String("task", t.ID), logx.Err(err))
	}
}

func (r *Router) complete(ctx context.Context, cmd kit.Command) {
	id := strings.TrimSpace(cmd.Options["task_id"])
	t, err := r.svc.Complete(ctx, id, cmd.UserID)
	if err != nil {
		r.ephemeral(ctx, cmd.Raw, actionErrorText(err))
		return
	}
	r.respond(ctx, cmd.Raw, kit.Response{
		Text: fmt.Sprintf("✅ **%s** for **%s** marked complete.", t.AssignmentName, t.ClassName),
	})
}

func (r *Router) listTasks(ctx context.Context, cmd kit.Command) {
	tasks, err := r.svc.UpcomingFor(ctx, cmd.UserID, upcomingWindow)
	if err != nil {
		r.log.Error("tasks listing failed", logx.Err(err))
		r.ephemeral(ctx, cmd.Raw, "❌ Could not load your tasks, try again shortly.")
		return
	}
	if len(tasks) == 0 {
		r.ephemeral(ctx, cmd.Raw, "You have no upcoming tasks. 🎉")
		return
	}

	var b strings.Builder
	b.WriteString("Your upcoming tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "• **%s** — **%s**, due %s (id `%s`)\n",
			t.ClassName, t.AssignmentName, t.DueAt.Format("Mon Jan 2 at 3:04PM"), t.ID)
	}
	r.ephemeral(ctx, cmd.Raw, b.String())
}

func (r *Router) handleComponent(ctx context.Context, comp kit.Component) {
	parts := strings.Split(comp.CustomID, ":")
	switch {
	case len(parts) == 3 && parts[0] == "remind":
		r.remindButton(ctx, comp, parts[1], parts[2])
	case len(parts) == 2 && parts[0] == "complete":
		r.completeButton(ctx, comp, parts[1])
	default:
		r.log.Warn("unknown component id", logx.String("custom_id", comp.CustomID))
	}
}

func (r *Router) remindButton(ctx context.Context, comp kit.Component, taskID, hoursStr string) {
	hours, err := strconv.Atoi(hoursStr)
	if err != nil {
		r.log.Warn("malformed remind button", logx.String("custom_id", comp.CustomID))
		return
	}

	t, err := r.svc.SetSecondaryReminder(ctx, taskID, comp.UserID, hours)
	if err != nil {
		r.ephemeral(ctx, comp.Raw, actionErrorText(err))
		return
	}

	text := fmt.Sprintf("⏰ Got it — I'll remind you about **%s** %d hour(s) before it's due (%s).",
		t.AssignmentName, hours, t.SecondaryAt().Format("Mon Jan 2 at 3:04PM"))
	if err := r.adapter.DisableComponents(ctx, comp.Raw, text); err != nil {
		r.log.Error("remind button update failed", logx.String("task", taskID), logx.Err(err))
	}
}

func (r *Router) completeButton(ctx context.Context, comp kit.Component, taskID string) {
	t, err := r.svc.Complete(ctx, taskID, comp.UserID)
	if err != nil {
		r.ephemeral(ctx, comp.Raw, actionErrorText(err))
		return
	}

	text := fmt.Sprintf("✅ **%s** for **%s** marked complete.", t.AssignmentName, t.ClassName)
	if err := r.adapter.DisableComponents(ctx, comp.Raw, text); err != nil {
		r.log.Error("complete button update failed", logx.String("task", taskID), logx.Err(err))
	}
}

// createErrorText maps Create failures to something worth showing the user.
func createErrorText(err error) string {
	switch {
	case errors.Is(err, task.ErrPastDue):
		return "❌ That due date is already in the past."
	case errors.Is(err, task.ErrMissingField):
		return "❌ " + err.Error()
	default:
		return "❌ Could not add the task, try again shortly."
	}
}

func actionErrorText(err error) string {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return "That task no longer exists."
	case errors.Is(err, task.ErrNotOwner):
		return "Only the task's owner can do that."
	case errors.Is(err, task.ErrOffsetAlreadySet):
		return "An early reminder is already set for that task."
	case errors.Is(err, task.ErrInvalidOffset):
		return "That reminder offset doesn't fit before the due time."
	default:
		return "Something went wrong, try again shortly."
	}
}

func (r *Router) ephemeral(ctx context.Context, raw any, text string) {
	r.respond(ctx, raw, kit.Response{Text: text, Ephemeral: true})
}

func (r *Router) respond(ctx context.Context, raw any, resp kit.Response) {
	if err := r.adapter.Respond(ctx, raw, resp); err != nil {
		r.log.Error("respond failed", logx.Err(err))
	}
}
