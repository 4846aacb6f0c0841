// Package audit provides structured audit logging for moderation actions:
// wave runs, ticket lifecycle transitions, and permission denials.
package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	// Wave events
	EventWaveStaged    EventType = "wave.staged"
	EventWaveStarted   EventType = "wave.started"
	EventWaveCompleted EventType = "wave.completed"
	EventWaveExpired   EventType = "wave.expired"

	// Ticket events
	EventTicketOpened    EventType = "ticket.opened"
	EventTicketClaimed   EventType = "ticket.claimed"
	EventTicketUnclaimed EventType = "ticket.unclaimed"
	EventTicketStatus    EventType = "ticket.status"
	EventTicketPriority  EventType = "ticket.priority"
	EventTicketAccess    EventType = "ticket.access"
	EventTicketClosed    EventType = "ticket.closed"

	// Permission events
	EventPermissionDenied EventType = "permission.denied"

	// Bot events
	EventBotStartup  EventType = "bot.startup"
	EventBotShutdown EventType = "bot.shutdown"
	EventBotError    EventType = "bot.error"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// GuildID identifies the community the action happened in.
	GuildID string `json:"guild_id,omitempty"`

	// ActorID identifies the staff member who triggered the action.
	ActorID string `json:"actor_id,omitempty"`

	// ChannelID identifies the channel involved, if any.
	ChannelID string `json:"channel_id,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// Duration is the time taken for timed operations.
	Duration time.Duration `json:"duration,omitempty"`

	// Error contains error information if applicable.
	Error string `json:"error,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stdout",
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}
