// Package gateway defines the community platform gateway: the single seam
// through which the workflow engines read and mutate chat-platform objects
// (members, roles, channels, permissions, message history). The production
// implementation wraps discordgo; tests substitute in-memory fakes.
package gateway

import (
	"context"
	"time"
)

// Member is a community member as seen by the workflow engines.
type Member struct {
	// ID is the member's platform identifier.
	ID string

	// Username is the account name.
	Username string

	// DisplayName is the per-community display name, falling back to the
	// account name when no nickname is set.
	DisplayName string

	// Tag is the legacy "name#discriminator" handle, or the plain username
	// for accounts migrated off discriminators.
	Tag string

	// RoleIDs are the ids of the roles currently held by the member.
	RoleIDs []string
}

// HasRole reports whether the member holds the given role.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role is a community role with its hierarchy position and manageability.
type Role struct {
	ID   string
	Name string

	// Position is the role's height in the community hierarchy; higher means
	// more senior.
	Position int

	// Managed marks platform-managed roles (bot and integration roles) that
	// can never be assigned or removed by hand.
	Managed bool

	// Editable reports whether the acting bot account may grant or revoke
	// this role: the role sits below the bot's own highest role and the bot
	// holds the manage-roles permission.
	Editable bool

	// Permissions is the role's permission bitset.
	Permissions int64
}

// Channel is a community channel.
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	ParentID string
	Topic    string
}

// Message is a single channel message, used for transcript capture.
type Message struct {
	ID        string
	AuthorID  string
	AuthorTag string
	Content   string
	Timestamp time.Time
}

// OverwriteKind distinguishes member and role permission overwrites.
type OverwriteKind int

const (
	// OverwriteMember targets a single member.
	OverwriteMember OverwriteKind = iota

	// OverwriteRole targets a role.
	OverwriteRole
)

// AccessLevel is the semantic permission grant applied by an overwrite.
type AccessLevel int

const (
	// AccessHidden denies viewing the channel.
	AccessHidden AccessLevel = iota

	// AccessViewer grants the standard ticket-participant set: view, send,
	// read history, attach files, embed links.
	AccessViewer

	// AccessOperator grants the viewer set plus channel management, used for
	// the acting bot account itself.
	AccessOperator
)

// Overwrite is a permission overwrite applied at channel creation.
type Overwrite struct {
	TargetID string
	Kind     OverwriteKind
	Access   AccessLevel
}

// ChannelCreate describes a channel to create.
type ChannelCreate struct {
	Name       string
	ParentID   string
	Topic      string
	Overwrites []Overwrite
}

// EmbedField is a single field in a rich embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a platform-neutral rich embed.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Timestamp   bool
}

// File is an attachment delivered alongside a message.
type File struct {
	Name string
	Data []byte
}

// ButtonStyle selects the visual style of a message button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is an interactive message button. Presses come back to the front end
// carrying the button's ID.
type Button struct {
	ID    string
	Label string
	Style ButtonStyle
}

// Outbound is a message to deliver to a channel. Any combination of plain
// content, an embed, a file attachment, and a button row may be set.
type Outbound struct {
	Content string
	Embed   *Embed
	File    *File
	Buttons []Button
}

// Gateway is the community platform surface consumed by the workflow engines.
// All calls are fallible; implementations classify failures with the Error
// taxonomy in this package so callers can distinguish a missing member from a
// transient transport fault.
type Gateway interface {
	// BotUserID returns the acting bot account's id.
	BotUserID() string

	// Member fetches a community member by id. A member that does not exist
	// yields an ErrCodeNotFound error.
	Member(ctx context.Context, guildID, userID string) (*Member, error)

	// SearchMembers issues a prefix/substring member search.
	SearchMembers(ctx context.Context, guildID, query string, limit int) ([]*Member, error)

	// Roles lists the community's roles with Editable computed against the
	// acting bot account.
	Roles(ctx context.Context, guildID string) ([]*Role, error)

	// AddRole grants a role with an actor-attributed audit reason.
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error

	// RemoveRole revokes a role with an actor-attributed audit reason.
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error

	// CreateChannel creates a channel with the given permission overwrites.
	CreateChannel(ctx context.Context, guildID string, req *ChannelCreate) (*Channel, error)

	// Channel fetches a channel by id; a deleted channel yields
	// ErrCodeNotFound.
	Channel(ctx context.Context, channelID string) (*Channel, error)

	// DeleteChannel deletes a channel with an audit reason.
	DeleteChannel(ctx context.Context, channelID, reason string) error

	// GrantAccess applies the viewer permission set for a member or role on
	// a channel.
	GrantAccess(ctx context.Context, channelID, targetID string, kind OverwriteKind) error

	// RevokeAccess removes a permission overwrite from a channel.
	RevokeAccess(ctx context.Context, channelID, targetID string) error

	// Messages fetches up to limit recent messages, newest first.
	Messages(ctx context.Context, channelID string, limit int) ([]*Message, error)

	// Send delivers a message to a channel.
	Send(ctx context.Context, channelID string, out *Outbound) error
}
