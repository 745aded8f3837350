package transport

import "context"

type UpdateKind string

const (
	UpdateCommand   UpdateKind = "command"
	UpdateComponent UpdateKind = "component"
)

// Update is one inbound interaction, normalized away from the platform SDK.
type Update struct {
	Kind      UpdateKind
	Command   *Command
	Component *Component
}

// Command is a slash-command invocation.
type Command struct {
	Name      string
	Options   map[string]string
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string

	// Raw carries the adapter-specific interaction handle needed to respond
	// (Discord: *discordgo.InteractionCreate). Opaque to the router.
	Raw any
}

// Component is a button press on a previously sent message.
type Component struct {
	CustomID  string
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	UserName  string

	Raw any
}

// Button is a platform-neutral button spec.
type Button struct {
	Label    string
	CustomID string
	// Style: "primary", "success", "danger"; adapters map the rest.
	Style string
}

// Response answers an interaction.
type Response struct {
	Text      string
	Ephemeral bool
	Buttons   []Button
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, channelID, text string) error
	SendDM(ctx context.Context, userID, text string) error

	// Respond answers the interaction carried in raw (Command.Raw or
	// Component.Raw).
	Respond(ctx context.Context, raw any, resp Response) error

	// DisableComponents edits the responded-to message so its buttons stop
	// accepting input (used once a choice is consumed).
	DisableComponents(ctx context.Context, raw any, text string) error
}
