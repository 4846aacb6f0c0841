package bot

import (
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/guildops/guildops/internal/commands"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/ticket"
)

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	parsed := b.parser.Parse(m.Content)
	if parsed == nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runCommand(m, parsed)
	}()
}

func (b *Bot) runCommand(m *discordgo.MessageCreate, parsed *commands.ParsedCommand) {
	ctx := b.ctx

	isAdmin := b.isAdmin(m.Author.ID, m.ChannelID, memberRoles(m.Member))
	actor := ticket.Actor{ID: m.Author.ID, Tag: userTag(m.Author), Admin: isAdmin}
	isSupport := isAdmin || b.tickets.IsSupport(ctx, m.GuildID, actor)

	inv := &commands.Invocation{
		Name:      parsed.Name,
		Args:      parsed.Args,
		RawText:   m.Content,
		GuildID:   m.GuildID,
		GuildName: b.guildName(m.GuildID),
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		ActorTag:  actor.Tag,
		IsAdmin:   isAdmin,
		IsSupport: isSupport,
	}

	result, err := b.registry.Execute(ctx, inv)
	if err != nil {
		// Unknown commands are ignored so the prefix can coexist with
		// other bots.
		b.logger.Debug("command not handled", "name", parsed.Name, "error", err)
		return
	}
	if result == nil || result.Suppress {
		return
	}

	out := &gateway.Outbound{
		Content: result.Text,
		Embed:   result.Embed,
		Buttons: result.Buttons,
	}
	if result.Error != "" {
		out.Content = result.Error
	}
	if err := b.gw.Send(ctx, m.ChannelID, out); err != nil {
		b.logger.Warn("command reply failed",
			"channel_id", m.ChannelID,
			"command", parsed.Name,
			"error", err)
	}
}

// isAdmin reports whether the user passes the admin gate: the bot owner, a
// member with the administrator permission, or a holder of an allowed role.
func (b *Bot) isAdmin(userID, channelID string, roleIDs []string) bool {
	if b.ownerID != "" && userID == b.ownerID {
		return true
	}

	perms, err := b.session.UserChannelPermissions(userID, channelID)
	if err == nil && perms&discordgo.PermissionAdministrator != 0 {
		return true
	}

	return b.hasAllowedRole(roleIDs)
}

func (b *Bot) hasAllowedRole(roleIDs []string) bool {
	for _, allowed := range b.allowedRoles {
		for _, held := range roleIDs {
			if held == allowed {
				return true
			}
		}
	}
	return false
}

func memberRoles(member *discordgo.Member) []string {
	if member == nil {
		return nil
	}
	return member.Roles
}

// userFacing maps an error to user-facing text, keeping internal failures
// vague.
func userFacing(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		switch gwErr.Code {
		case gateway.ErrCodeNotFound, gateway.ErrCodeInvalidInput,
			gateway.ErrCodePermission, gateway.ErrCodeConfig:
			return gwErr.Message
		}
	}
	return "Something went wrong, please try again."
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
