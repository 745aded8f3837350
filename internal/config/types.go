package config

// Config is the full on-disk configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON before decoding so both
// formats go through the same strict decoder (DisallowUnknownFields).
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reminders RemindersConfig `json:"reminders"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDiscord mirrors warn+ log lines into a Discord channel.
type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the task store.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "memory": in-memory store (tests / ephemeral runs)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the reminder evaluation loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone all due times are interpreted and compared in.
	// Defaults to America/Los_Angeles.
	Timezone string `json:"timezone,omitempty"`

	// GraceWindow is how long past the due time an uncompleted task is kept
	// before silent cleanup. Go duration string; defaults to "24h".
	GraceWindow string `json:"grace_window,omitempty"`
}

// RemindersConfig controls the interactive secondary-reminder offsets.
type RemindersConfig struct {
	// OfferedHours are the hour offsets offered as buttons after task
	// creation. Defaults to [1, 3, 6, 12].
	OfferedHours []int `json:"offered_hours,omitempty"`
}
