package gateway

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
)

// mockRestSession is a mock implementation of the discordgo REST surface.
type mockRestSession struct {
	guildMemberFn        func(guildID, userID string) (*discordgo.Member, error)
	guildRolesFn         func(guildID string) ([]*discordgo.Role, error)
	roleRemoved          []string
	roleAdded            []string
	sentMessages         []*discordgo.MessageSend
	permissionSetCalls   int
	permissionDeleteArgs []string
}

func (m *mockRestSession) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	if m.guildMemberFn != nil {
		return m.guildMemberFn(guildID, userID)
	}
	return &discordgo.Member{User: &discordgo.User{ID: userID, Username: "user"}}, nil
}

func (m *mockRestSession) GuildMembersSearch(guildID, query string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	return nil, nil
}

func (m *mockRestSession) GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	if m.guildRolesFn != nil {
		return m.guildRolesFn(guildID)
	}
	return nil, nil
}

func (m *mockRestSession) GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error {
	m.roleAdded = append(m.roleAdded, roleID)
	return nil
}

func (m *mockRestSession) GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error {
	m.roleRemoved = append(m.roleRemoved, roleID)
	return nil
}

func (m *mockRestSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "chan-1", GuildID: guildID, Name: data.Name, ParentID: data.ParentID}, nil
}

func (m *mockRestSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockRestSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockRestSession) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error {
	m.permissionSetCalls++
	return nil
}

func (m *mockRestSession) ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error {
	m.permissionDeleteArgs = append(m.permissionDeleteArgs, targetID)
	return nil
}

func (m *mockRestSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return nil, nil
}

func (m *mockRestSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.sentMessages = append(m.sentMessages, data)
	return &discordgo.Message{ID: "msg-1"}, nil
}

func newTestDiscord(mock restSession) *Discord {
	return &Discord{
		session:   mock,
		botUserID: "bot-1",
		limiter:   NewRateLimiter(1000, 1000),
	}
}

func TestRolesEditableComputation(t *testing.T) {
	mock := &mockRestSession{
		guildRolesFn: func(guildID string) ([]*discordgo.Role, error) {
			return []*discordgo.Role{
				{ID: "everyone", Position: 0},
				{ID: "member", Position: 1},
				{ID: "mod", Position: 2},
				{ID: "bot-role", Position: 3, Permissions: discordgo.PermissionManageRoles},
				{ID: "admin", Position: 4},
				{ID: "integration", Position: 2, Managed: true},
			}, nil
		},
		guildMemberFn: func(guildID, userID string) (*discordgo.Member, error) {
			return &discordgo.Member{
				User:  &discordgo.User{ID: userID, Username: "bot"},
				Roles: []string{"bot-role"},
			}, nil
		},
	}

	d := newTestDiscord(mock)
	roles, err := d.Roles(context.Background(), "guild-1")
	if err != nil {
		t.Fatalf("Roles returned error: %v", err)
	}

	editable := map[string]bool{}
	for _, r := range roles {
		editable[r.ID] = r.Editable
	}

	// Roles below the bot's top role are editable; managed roles, roles at or
	// above the bot's height never are.
	if !editable["member"] || !editable["mod"] {
		t.Error("expected roles below the bot to be editable")
	}
	if editable["bot-role"] || editable["admin"] {
		t.Error("roles at or above the bot's top role must not be editable")
	}
	if editable["integration"] {
		t.Error("managed roles must not be editable")
	}
}

func TestRolesNotEditableWithoutManagePermission(t *testing.T) {
	mock := &mockRestSession{
		guildRolesFn: func(guildID string) ([]*discordgo.Role, error) {
			return []*discordgo.Role{
				{ID: "member", Position: 1},
				{ID: "bot-role", Position: 3}, // no manage-roles bit
			}, nil
		},
		guildMemberFn: func(guildID, userID string) (*discordgo.Member, error) {
			return &discordgo.Member{
				User:  &discordgo.User{ID: userID, Username: "bot"},
				Roles: []string{"bot-role"},
			}, nil
		},
	}

	d := newTestDiscord(mock)
	roles, err := d.Roles(context.Background(), "guild-1")
	if err != nil {
		t.Fatalf("Roles returned error: %v", err)
	}
	for _, r := range roles {
		if r.Editable {
			t.Errorf("role %s editable without manage-roles permission", r.ID)
		}
	}
}

func TestSendWithFileAndEmbed(t *testing.T) {
	mock := &mockRestSession{}
	d := newTestDiscord(mock)

	err := d.Send(context.Background(), "chan-1", &Outbound{
		Embed: &Embed{Title: "Wave complete", Fields: []EmbedField{{Name: "Total", Value: "3"}}},
		File:  &File{Name: "report.txt", Data: []byte("line\n")},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(mock.sentMessages) != 1 {
		t.Fatalf("expected 1 send, got %d", len(mock.sentMessages))
	}
	sent := mock.sentMessages[0]
	if len(sent.Embeds) != 1 || sent.Embeds[0].Title != "Wave complete" {
		t.Error("embed not forwarded")
	}
	if len(sent.Files) != 1 || sent.Files[0].Name != "report.txt" {
		t.Error("file not forwarded")
	}
}

func TestSendRejectsEmptyOutbound(t *testing.T) {
	d := newTestDiscord(&mockRestSession{})
	err := d.Send(context.Background(), "chan-1", &Outbound{})
	if GetErrorCode(err) != ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestUserTag(t *testing.T) {
	legacy := &discordgo.User{Username: "john", Discriminator: "1234"}
	if got := userTag(legacy); got != "john#1234" {
		t.Errorf("legacy tag: got %q", got)
	}
	migrated := &discordgo.User{Username: "john", Discriminator: "0"}
	if got := userTag(migrated); got != "john" {
		t.Errorf("migrated tag: got %q", got)
	}
}

func TestConvertMemberDisplayNameFallback(t *testing.T) {
	m := convertMember(&discordgo.Member{
		User: &discordgo.User{ID: "1", Username: "john", GlobalName: "Johnny"},
	})
	if m.DisplayName != "Johnny" {
		t.Errorf("expected global name fallback, got %q", m.DisplayName)
	}

	withNick := convertMember(&discordgo.Member{
		Nick: "Boss",
		User: &discordgo.User{ID: "1", Username: "john"},
	})
	if withNick.DisplayName != "Boss" {
		t.Errorf("expected nick to win, got %q", withNick.DisplayName)
	}
}
