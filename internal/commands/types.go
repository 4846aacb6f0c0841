// Package commands provides prefix command parsing and routing for the bot's
// text interface.
package commands

import (
	"context"

	"github.com/guildops/guildops/internal/gateway"
)

// Command is a registered prefix command.
type Command struct {
	// Name is the command name without the leading prefix (e.g. "claim").
	Name string `json:"name"`

	// Aliases are alternative names for the command.
	Aliases []string `json:"aliases,omitempty"`

	// Description is a short description of what the command does.
	Description string `json:"description,omitempty"`

	// Usage shows how to use the command.
	Usage string `json:"usage,omitempty"`

	// AcceptsArgs indicates whether the command accepts arguments.
	AcceptsArgs bool `json:"accepts_args"`

	// Hidden hides the command from help listings.
	Hidden bool `json:"hidden,omitempty"`

	// AdminOnly restricts the command to the bot owner, guild
	// administrators, and holders of an allowed role.
	AdminOnly bool `json:"admin_only,omitempty"`

	// SupportOnly restricts the command to support staff.
	SupportOnly bool `json:"support_only,omitempty"`

	// Handler executes the command.
	Handler Handler `json:"-"`

	// Category groups commands in help output.
	Category string `json:"category,omitempty"`
}

// Handler processes a command invocation.
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is a parsed command invocation with the caller's identity and
// permission flags already resolved by the front end.
type Invocation struct {
	// Command is the matched command definition.
	Command *Command

	// Name is the actual name or alias used to invoke.
	Name string

	// Args is the text after the command name.
	Args string

	// RawText is the original message text.
	RawText string

	// GuildID identifies the guild the command came from.
	GuildID string

	// GuildName is the guild's display name.
	GuildName string

	// ChannelID identifies the channel the command came from.
	ChannelID string

	// UserID identifies the invoking user.
	UserID string

	// ActorTag is the invoking user's handle, used in audit reasons.
	ActorTag string

	// IsAdmin is true for the bot owner, guild administrators, and holders
	// of an allowed role.
	IsAdmin bool

	// IsSupport is true for support staff.
	IsSupport bool
}

// Result is the output of a command execution.
type Result struct {
	// Text is the response message to send.
	Text string `json:"text,omitempty"`

	// Embed is an optional rich embed attached to the response.
	Embed *gateway.Embed `json:"-"`

	// Buttons are optional interactive buttons attached to the response.
	Buttons []gateway.Button `json:"-"`

	// Private indicates the response should only be visible to the invoker.
	Private bool `json:"private,omitempty"`

	// Suppress indicates no response should be sent.
	Suppress bool `json:"suppress,omitempty"`

	// Error is a user-facing failure message.
	Error string `json:"error,omitempty"`
}

// ParsedCommand is a detected command in a message.
type ParsedCommand struct {
	// Name is the command name without the prefix.
	Name string

	// Args is the argument text.
	Args string

	// Prefix is the command prefix used.
	Prefix string
}
