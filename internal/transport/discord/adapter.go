package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "github.com/t1modo/NotiTron/internal/runtime/supervisor"
	kit "github.com/t1modo/NotiTron/internal/transport"
	logx "github.com/t1modo/NotiTron/pkg/logx"
)

type Config struct {
	Token   string
	GuildID string
}

// Adapter bridges discordgo to the transport-neutral Update/Respond surface.
type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines; created on Start(), cancelled
	// on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the gateway. Reported periodically to avoid per-update log spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if strings.TrimSpace(cfg.GuildID) == "" {
		return nil, errors.New("discord guild_id is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, session: s}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("gateway ready", logx.String("user", r.User.Username))
	})

	// Handlers forward to the CURRENT output channel; Start() may swap it.
	a.session.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		switch ic.Type {
		case discordgo.InteractionApplicationCommand:
			data := ic.ApplicationCommandData()
			opts := make(map[string]string, len(data.Options))
			for _, o := range data.Options {
				if o.Type == discordgo.ApplicationCommandOptionString {
					opts[o.Name] = o.StringValue()
				}
			}
			userID, userName := interactionUser(ic)
			a.sendUpdate(kit.Update{
				Kind: kit.UpdateCommand,
				Command: &kit.Command{
					Name:      data.Name,
					Options:   opts,
					GuildID:   ic.GuildID,
					ChannelID: ic.ChannelID,
					UserID:    userID,
					UserName:  userName,
					Raw:       ic,
				},
			})
		case discordgo.InteractionMessageComponent:
			data := ic.MessageComponentData()
			userID, userName := interactionUser(ic)
			messageID := ""
			if ic.Message != nil {
				messageID = ic.Message.ID
			}
			a.sendUpdate(kit.Update{
				Kind: kit.UpdateComponent,
				Component: &kit.Component{
					CustomID:  data.CustomID,
					GuildID:   ic.GuildID,
					ChannelID: ic.ChannelID,
					MessageID: messageID,
					UserID:    userID,
					UserName:  userName,
					Raw:       ic,
				},
			})
		}
	})
}

func interactionUser(ic *discordgo.InteractionCreate) (id, name string) {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID, ic.Member.User.Username
	}
	if ic.User != nil {
		return ic.User.ID, ic.User.Username
	}
	return "", ""
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}

	if err := a.session.Open(); err != nil {
		a.runMu.Unlock()
		return err
	}

	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		// adapter hiccups should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if err := a.registerCommands(); err != nil {
		a.log.Error("slash command registration failed", logx.Err(err))
	}

	// Periodic summary for dropped updates.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)",
					logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	// Close the gateway when the adapter context is cancelled.
	sup.Go0("gateway.close_on_cancel", func(c context.Context) {
		<-c.Done()
		_ = a.session.Close()
	})

	return nil
}

// registerCommands overwrites the guild's slash commands with ours.
func (a *Adapter) registerCommands() error {
	appID := ""
	if a.session.State != nil && a.session.State.User != nil {
		appID = a.session.State.User.ID
	}
	if appID == "" {
		return errors.New("application id unavailable (gateway not ready)")
	}

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "add_task",
			Description: "Set a reminder for an upcoming assignment",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "class_name", Description: "Class the assignment belongs to", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "assignment_name", Description: "Assignment to be reminded about", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "due_date", Description: "Due date, MM/DD/YY or MM/DD/YYYY", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "due_time", Description: "Due time, e.g. 11:59PM (defaults to 11:59PM)", Required: false},
			},
		},
		{
			Name:        "complete",
			Description: "Mark one of your tasks as done",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "task_id", Description: "Task id shown by /tasks", Required: true},
			},
		},
		{
			Name:        "tasks",
			Description: "List your upcoming tasks",
		},
	}

	_, err := a.session.ApplicationCommandBulkOverwrite(appID, a.cfg.GuildID, cmds)
	if err == nil {
		a.log.Info("slash commands registered", logx.Int("count", len(cmds)), logx.String("guild", a.cfg.GuildID))
	}
	return err
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	_ = a.session.Close()

	if sup == nil {
		return nil
	}
	if err := sup.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("discord stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := a.session.ChannelMessageSend(channelID, text)
	return err
}

func (a *Adapter) SendDM(ctx context.Context, userID, text string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ch, err := a.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = a.session.ChannelMessageSend(ch.ID, text)
	return err
}

func (a *Adapter) Respond(ctx context.Context, raw any, resp kit.Response) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ic, ok := raw.(*discordgo.InteractionCreate)
	if !ok || ic == nil {
		return errors.New("respond: raw is not a discord interaction")
	}

	data := &discordgo.InteractionResponseData{Content: resp.Text}
	if resp.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if rows := buttonRows(resp.Buttons); len(rows) > 0 {
		data.Components = rows
	}

	return a.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// DisableComponents answers a component interaction by rewriting the
// original message without its buttons, so a consumed choice cannot be
// pressed again.
func (a *Adapter) DisableComponents(ctx context.Context, raw any, text string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ic, ok := raw.(*discordgo.InteractionCreate)
	if !ok || ic == nil {
		return errors.New("disable components: raw is not a discord interaction")
	}

	return a.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    text,
			Components: []discordgo.MessageComponent{},
		},
	})
}

func buttonRows(buttons []kit.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	// Discord allows 5 buttons per action row.
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += 5 {
		end := start + 5
		if end > len(buttons) {
			end = len(buttons)
		}
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				CustomID: b.CustomID,
				Style:    buttonStyle(b.Style),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func buttonStyle(s string) discordgo.ButtonStyle {
	switch s {
	case "primary":
		return discordgo.PrimaryButton
	case "success":
		return discordgo.SuccessButton
	case "danger":
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
