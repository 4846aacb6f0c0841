package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// viewerAllow is the standard participant permission set granted to ticket
// openers, trade partners, and the support role.
const viewerAllow = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAttachFiles |
	discordgo.PermissionEmbedLinks

// operatorAllow adds channel management for the acting bot account.
const operatorAllow = viewerAllow | discordgo.PermissionManageChannels

// restSession is the subset of discordgo.Session used by the gateway. It
// exists so tests can substitute a mock without a live connection.
type restSession interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembersSearch(guildID, query string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	// Session is an opened discordgo session (required).
	Session *discordgo.Session

	// BotUserID is the acting bot account's id (required).
	BotUserID string

	// RateLimit is the REST call rate in operations per second.
	RateLimit float64

	// RateBurst is the burst capacity for the rate limiter.
	RateBurst int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *DiscordConfig) Validate() error {
	if c.Session == nil {
		return ErrConfig("session is required", nil)
	}
	if c.BotUserID == "" {
		return ErrConfig("bot user id is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5 // conservative default for Discord REST
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Discord implements Gateway on top of discordgo's REST client.
type Discord struct {
	session   restSession
	botUserID string
	limiter   *RateLimiter
	logger    *slog.Logger
}

// NewDiscord creates a Discord gateway from an opened session.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Discord{
		session:   cfg.Session,
		botUserID: cfg.BotUserID,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    cfg.Logger.With("component", "gateway.discord"),
	}, nil
}

// BotUserID returns the acting bot account's id.
func (d *Discord) BotUserID() string {
	return d.botUserID
}

// Member fetches a community member by id.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout("rate limit wait cancelled", err)
	}

	m, err := d.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, mapDiscordError("failed to fetch member", err)
	}
	return convertMember(m), nil
}

// SearchMembers issues a prefix member search against the guild.
func (d *Discord) SearchMembers(ctx context.Context, guildID, query string, limit int) ([]*Member, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout("rate limit wait cancelled", err)
	}

	found, err := d.session.GuildMembersSearch(guildID, query, limit)
	if err != nil {
		return nil, mapDiscordError("member search failed", err)
	}

	members := make([]*Member, 0, len(found))
	for _, m := range found {
		members = append(members, convertMember(m))
	}
	return members, nil
}

// Roles lists the guild's roles with Editable computed against the bot's own
// role height and manage-roles permission.
func (d *Discord) Roles(ctx context.Context, guildID string) ([]*Role, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout("rate limit wait cancelled", err)
	}

	raw, err := d.session.GuildRoles(guildID)
	if err != nil {
		return nil, mapDiscordError("failed to fetch roles", err)
	}

	bot, err := d.session.GuildMember(guildID, d.botUserID)
	if err != nil {
		return nil, mapDiscordError("failed to fetch bot member", err)
	}

	botTop, canManage := botRoleReach(raw, bot.Roles)

	roles := make([]*Role, 0, len(raw))
	for _, r := range raw {
		roles = append(roles, &Role{
			ID:          r.ID,
			Name:        r.Name,
			Position:    r.Position,
			Managed:     r.Managed,
			Permissions: r.Permissions,
			Editable:    canManage && !r.Managed && r.Position < botTop,
		})
	}
	return roles, nil
}

// AddRole grants a role with an audit reason.
func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return ErrTimeout("rate limit wait cancelled", err)
	}

	if err := d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithAuditLogReason(reason)); err != nil {
		return mapDiscordError("failed to add role", err)
	}
	return nil
}

// RemoveRole revokes a role with an audit reason.
func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return ErrTimeout("rate limit wait cancelled", err)
	}

	if err := d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithAuditLogReason(reason)); err != nil {
		return mapDiscordError("failed to remove role", err)
	}
	return nil
}

// CreateChannel creates a guild text channel with permission overwrites.
func (d *Discord) CreateChannel(ctx context.Context, guildID string, req *ChannelCreate) (*Channel, error) {
	if req == nil || req.Name == "" {
		return nil, ErrInvalidInput("channel name is required", nil)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout("rate limit wait cancelled", err)
	}

	overwrites := make([]*discordgo.PermissionOverwrite, 0, len(req.Overwrites))
	for _, ow := range req.Overwrites {
		overwrites = append(overwrites, convertOverwrite(ow))
	}

	ch, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                req.Topic,
		ParentID:             req.ParentID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return nil, mapDiscordError("failed to create channel", err)
	}
	return convertChannel(ch), nil
}

// Channel fetches a channel by id.
func (d *Discord) Channel(ctx context.Context, channelID string) (*Channel, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout("rate limit wait cancelled", err)
	}

	ch, err := d.session.Channel(channelID)
	if err != nil {
		return nil, mapDiscordError("failed to fetch channel", err)
	}
	return convertChannel(ch), nil
}

// DeleteChannel deletes a channel with an audit reason.
func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return ErrTimeout("rate limit wait cancelled", err)
	}

	if _, err := d.session.ChannelDelete(channelID, discordgo.WithAuditLogReason(reason)); err != nil {
		return mapDiscordError("failed to delete channel", err)
	}
	return nil
}

// GrantAccess applies the viewer permission set on a channel.
func (d *Discord) GrantAccess(ctx context.Context, channelID, targetID string, kind OverwriteKind) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return ErrTimeout("rate limit wait cancelled", err)
	}

	targetType := discordgo.PermissionOverwriteTypeMember
	if kind == OverwriteRole {
		targetType = discordgo.PermissionOverwriteTypeRole
	}
	if err := d.session.ChannelPermissionSet(channelID, targetID, targetType, viewerAllow, 0); err != nil {
		return mapDiscordError("failed to grant channel access", err)
	}
	return nil
}

// RevokeAccess removes a permission overwrite from a channel.
func (d *Discord) RevokeAccess(ctx context.Context, channelID, targetID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return ErrTimeout("rate limit wait cancelled", err)
	}

	if err := d.session.ChannelPermissionDelete(channelID, targetID); err != nil {
		return mapDiscordError("failed to revoke channel access", err)
	}
	return nil
}

// Messages fetches up to limit recent messages, newest first.
func (d *Discord) Messages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout("rate limit wait cancelled", err)
	}

	raw, err := d.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, mapDiscordError("failed to fetch messages", err)
	}

	messages := make([]*Message, 0, len(raw))
	for _, m := range raw {
		if m == nil || m.Author == nil {
			continue
		}
		messages = append(messages, &Message{
			ID:        m.ID,
			AuthorID:  m.Author.ID,
			AuthorTag: userTag(m.Author),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return messages, nil
}

// Send delivers a message to a channel.
func (d *Discord) Send(ctx context.Context, channelID string, out *Outbound) error {
	if out == nil || (out.Content == "" && out.Embed == nil && out.File == nil && len(out.Buttons) == 0) {
		return ErrInvalidInput("outbound message is empty", nil)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return ErrTimeout("rate limit wait cancelled", err)
	}

	data := &discordgo.MessageSend{Content: out.Content}
	if out.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{convertEmbed(out.Embed)}
	}
	if out.File != nil {
		data.Files = []*discordgo.File{{
			Name:        out.File.Name,
			ContentType: "text/plain",
			Reader:      bytes.NewReader(out.File.Data),
		}}
	}
	if len(out.Buttons) > 0 {
		data.Components = []discordgo.MessageComponent{buttonRow(out.Buttons)}
	}

	if _, err := d.session.ChannelMessageSendComplex(channelID, data); err != nil {
		return mapDiscordError("failed to send message", err)
	}
	return nil
}

// botRoleReach returns the bot's highest role position and whether it holds
// the manage-roles permission through any of its roles.
func botRoleReach(roles []*discordgo.Role, botRoleIDs []string) (int, bool) {
	held := make(map[string]bool, len(botRoleIDs))
	for _, id := range botRoleIDs {
		held[id] = true
	}

	top := 0
	canManage := false
	for _, r := range roles {
		if !held[r.ID] {
			continue
		}
		if r.Position > top {
			top = r.Position
		}
		if r.Permissions&discordgo.PermissionAdministrator != 0 ||
			r.Permissions&discordgo.PermissionManageRoles != 0 {
			canManage = true
		}
	}
	return top, canManage
}

func convertMember(m *discordgo.Member) *Member {
	if m == nil || m.User == nil {
		return nil
	}

	display := m.Nick
	if display == "" {
		display = m.User.GlobalName
	}
	if display == "" {
		display = m.User.Username
	}

	return &Member{
		ID:          m.User.ID,
		Username:    m.User.Username,
		DisplayName: display,
		Tag:         userTag(m.User),
		RoleIDs:     append([]string(nil), m.Roles...),
	}
}

func userTag(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

func convertChannel(ch *discordgo.Channel) *Channel {
	if ch == nil {
		return nil
	}
	return &Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		Name:     ch.Name,
		ParentID: ch.ParentID,
		Topic:    ch.Topic,
	}
}

func convertOverwrite(ow Overwrite) *discordgo.PermissionOverwrite {
	targetType := discordgo.PermissionOverwriteTypeMember
	if ow.Kind == OverwriteRole {
		targetType = discordgo.PermissionOverwriteTypeRole
	}

	result := &discordgo.PermissionOverwrite{ID: ow.TargetID, Type: targetType}
	switch ow.Access {
	case AccessHidden:
		result.Deny = discordgo.PermissionViewChannel
	case AccessViewer:
		result.Allow = viewerAllow
	case AccessOperator:
		result.Allow = operatorAllow
	}
	return result
}

func convertEmbed(e *Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if e.Timestamp {
		embed.Timestamp = time.Now().Format(time.RFC3339)
	}
	return embed
}

func buttonRow(buttons []Button) discordgo.ActionsRow {
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.ID,
			Label:    b.Label,
			Style:    convertButtonStyle(b.Style),
		})
	}
	return row
}

func convertButtonStyle(style ButtonStyle) discordgo.ButtonStyle {
	switch style {
	case ButtonSecondary:
		return discordgo.SecondaryButton
	case ButtonSuccess:
		return discordgo.SuccessButton
	case ButtonDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

// mapDiscordError classifies a discordgo REST failure into the gateway error
// taxonomy. Unknown member/user (the platform's code for a missing wave
// target) maps to ErrCodeNotFound so the wave engine records a per-target
// outcome instead of aborting.
func mapDiscordError(message string, err error) *Error {
	if err == nil {
		return nil
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return ErrRateLimit(message, err)
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownRole:
			return ErrNotFound(message, err)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return ErrPermission(message, err)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout(message, err)
	}

	return ErrInternal(message, err)
}
