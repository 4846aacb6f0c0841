package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/guildops/guildops/internal/commands"
	"github.com/guildops/guildops/internal/report"
	"github.com/guildops/guildops/internal/ticket"
	"github.com/guildops/guildops/internal/wave"
)

// Modal ids.
const (
	modalTicketOpen  = "ticket_open_modal"
	modalCloseReason = "ticket_close_reason_modal"
	modalWavePrefix  = "wave_ids_modal:"
)

func (b *Bot) handleInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.handleComponent(i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(i)
	}
}

func (b *Bot) handleComponent(i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	user := interactionUser(i)
	if user == nil {
		return
	}

	switch {
	case customID == commands.ButtonDemoRun:
		b.runWave(i, user, wave.KindDemote)
	case customID == commands.ButtonPromoRun:
		b.runWave(i, user, wave.KindPromote)
	case customID == ticket.ButtonOpen:
		b.respond(i.Interaction, openTicketModal())
	case customID == ticket.ButtonClaim:
		b.ticketAction(i, user, "claim")
	case customID == ticket.ButtonDone:
		b.ticketAction(i, user, "done")
	case customID == ticket.ButtonClose:
		b.promptClose(i, user)
	case strings.HasPrefix(customID, ticket.ConfirmPrefix):
		b.confirmPartner(i, user, strings.TrimPrefix(customID, ticket.ConfirmPrefix))
	}
}

func (b *Bot) handleModal(i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}
	data := i.ModalSubmitData()
	values := textInputs(data)

	switch {
	case data.CustomID == modalTicketOpen:
		b.openTicket(i, user, values)
	case data.CustomID == modalCloseReason:
		b.closeTicket(i, user, values["reason"])
	case strings.HasPrefix(data.CustomID, modalWavePrefix):
		kind := wave.KindDemote
		if strings.TrimPrefix(data.CustomID, modalWavePrefix) == string(wave.KindPromote) {
			kind = wave.KindPromote
		}
		b.stageAndRunWave(i, user, kind, values["targets"])
	}
}

// runWave executes the requester's staged session, streaming progress into
// the interaction response.
func (b *Bot) runWave(i *discordgo.InteractionCreate, user *discordgo.User, kind wave.Kind) {
	if !b.interactionAdmin(i, user) {
		b.denied(i, user, "wave run")
		return
	}

	// A press without a staged session falls back to an id-paste modal so
	// the wave can be staged and run in one step.
	if _, err := b.waves.Store().Get(user.ID, i.GuildID); err != nil &&
		(errors.Is(err, wave.ErrNoSession) || errors.Is(err, wave.ErrSessionExpired)) {
		b.respond(i.Interaction, waveIDsModal(kind))
		return
	}

	b.respondText(i.Interaction, report.Progress(0, 0), false)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		req := &wave.Request{
			RequesterID: user.ID,
			ActorTag:    userTag(user),
			GuildID:     i.GuildID,
			GuildName:   b.guildName(i.GuildID),
			Progress: func(done, total int) {
				b.editResponse(i.Interaction, report.Progress(done, total))
			},
		}
		result, err := b.waves.Execute(b.ctx, req)
		if err != nil {
			b.editResponse(i.Interaction, waveErrorMessage(err))
			return
		}
		b.editResponse(i.Interaction, waveDoneMessage(kind, result))
	}()
}

// stageAndRunWave stages the pasted target list and executes it immediately.
func (b *Bot) stageAndRunWave(i *discordgo.InteractionCreate, user *discordgo.User, kind wave.Kind, raw string) {
	if !b.interactionAdmin(i, user) {
		b.denied(i, user, "wave run")
		return
	}

	if _, err := b.waves.Stage(user.ID, i.GuildID, kind, raw); err != nil {
		b.respondText(i.Interaction, userFacing(err), true)
		return
	}
	b.runWave(i, user, kind)
}

func (b *Bot) ticketAction(i *discordgo.InteractionCreate, user *discordgo.User, action string) {
	actor := b.interactionActor(i, user)
	if !actor.Admin && !b.tickets.IsSupport(b.ctx, i.GuildID, actor) {
		b.denied(i, user, "ticket "+action)
		return
	}

	var err error
	switch action {
	case "claim":
		_, err = b.tickets.Claim(b.ctx, i.ChannelID, actor)
	case "done":
		_, err = b.tickets.Done(b.ctx, i.ChannelID, actor)
	}
	if err != nil {
		b.respondText(i.Interaction, userFacing(err), true)
		return
	}
	b.respondText(i.Interaction, "Done.", true)
}

func (b *Bot) promptClose(i *discordgo.InteractionCreate, user *discordgo.User) {
	actor := b.interactionActor(i, user)
	if !actor.Admin && !b.tickets.IsSupport(b.ctx, i.GuildID, actor) {
		b.denied(i, user, "ticket close")
		return
	}
	b.respond(i.Interaction, closeReasonModal())
}

func (b *Bot) confirmPartner(i *discordgo.InteractionCreate, user *discordgo.User, partnerID string) {
	t, err := b.tickets.Ticket(i.ChannelID)
	if err != nil {
		b.respondText(i.Interaction, userFacing(err), true)
		return
	}

	actor := b.interactionActor(i, user)
	if user.ID != t.OpenerID && !actor.Admin && !b.tickets.IsSupport(b.ctx, i.GuildID, actor) {
		b.respondText(i.Interaction, "Only the ticket opener can confirm the trade partner.", true)
		return
	}

	if _, err := b.tickets.ConfirmPartner(b.ctx, i.ChannelID, partnerID, actor); err != nil {
		b.respondText(i.Interaction, userFacing(err), true)
		return
	}
	b.respondText(i.Interaction, fmt.Sprintf("<@%s> has been added to the ticket.", partnerID), true)
}

func (b *Bot) openTicket(i *discordgo.InteractionCreate, user *discordgo.User, values map[string]string) {
	b.deferEphemeral(i.Interaction)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		result, err := b.tickets.Open(b.ctx, i.GuildID, user.ID, &ticket.OpenRequest{
			TradeTargetRaw: values["trade_target"],
			TradeDetails:   values["trade_details"],
		})
		if err != nil {
			b.editResponse(i.Interaction, userFacing(err))
			return
		}
		if result.Existing {
			b.editResponse(i.Interaction,
				fmt.Sprintf("You already have an open ticket: <#%s>", result.Channel.ID))
			return
		}
		b.editResponse(i.Interaction,
			fmt.Sprintf("Your ticket is ready: <#%s>", result.Channel.ID))
	}()
}

func (b *Bot) closeTicket(i *discordgo.InteractionCreate, user *discordgo.User, reason string) {
	actor := b.interactionActor(i, user)
	if !actor.Admin && !b.tickets.IsSupport(b.ctx, i.GuildID, actor) {
		b.denied(i, user, "ticket close")
		return
	}

	b.respondText(i.Interaction, "Closing this ticket.", true)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.tickets.Close(b.ctx, i.ChannelID, actor, reason); err != nil {
			b.logger.Warn("ticket close failed",
				"channel_id", i.ChannelID,
				"error", err)
		}
	}()
}

// interactionAdmin checks the admin gate using the member data carried on the
// interaction.
func (b *Bot) interactionAdmin(i *discordgo.InteractionCreate, user *discordgo.User) bool {
	if b.ownerID != "" && user.ID == b.ownerID {
		return true
	}
	if i.Member != nil {
		if i.Member.Permissions&discordgo.PermissionAdministrator != 0 {
			return true
		}
		if b.hasAllowedRole(i.Member.Roles) {
			return true
		}
	}
	return false
}

func (b *Bot) interactionActor(i *discordgo.InteractionCreate, user *discordgo.User) ticket.Actor {
	return ticket.Actor{
		ID:    user.ID,
		Tag:   userTag(user),
		Admin: b.interactionAdmin(i, user),
	}
}

func (b *Bot) denied(i *discordgo.InteractionCreate, user *discordgo.User, action string) {
	b.respondText(i.Interaction, "You do not have permission to do that.", true)
	if b.audit != nil {
		b.audit.LogPermissionDenied(b.ctx, i.GuildID, user.ID, action)
	}
}

// Response helpers. Interaction failures are logged and swallowed; the
// workflow state has already been applied by the time a response goes out.

func (b *Bot) respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) {
	if err := b.session.InteractionRespond(i, resp); err != nil {
		b.logger.Warn("interaction respond failed", "error", err)
	}
}

func (b *Bot) respondText(i *discordgo.Interaction, text string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: text}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func (b *Bot) deferEphemeral(i *discordgo.Interaction) {
	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) editResponse(i *discordgo.Interaction, content string) {
	if _, err := b.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Warn("interaction edit failed", "error", err)
	}
}

func openTicketModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalTicketOpen,
			Title:    "Open a Trade Ticket",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  "trade_target",
						Label:     "Who are you trading with?",
						Style:     discordgo.TextInputShort,
						MaxLength: 120,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  "trade_details",
						Label:     "What are you offering?",
						Style:     discordgo.TextInputParagraph,
						MaxLength: 500,
					},
				}},
			},
		},
	}
}

func waveIDsModal(kind wave.Kind) *discordgo.InteractionResponse {
	title := "Demo Wave"
	if kind == wave.KindPromote {
		title = "Promo Wave"
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalWavePrefix + string(kind),
			Title:    title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "targets",
						Label:       "Paste member ids or mentions",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "One or more user ids, in any format",
						Required:    true,
					},
				}},
			},
		},
	}
}

func closeReasonModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalCloseReason,
			Title:    "Close Ticket",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  "reason",
						Label:     "Reason",
						Style:     discordgo.TextInputParagraph,
						MaxLength: 500,
					},
				}},
			},
		},
	}
}

func textInputs(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			if input, ok := component.(*discordgo.TextInput); ok {
				values[input.CustomID] = input.Value
			}
		}
	}
	return values
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

func waveDoneMessage(kind wave.Kind, result *wave.Result) string {
	title := "Demo Wave"
	if kind == wave.KindPromote {
		title = "Promo Wave"
	}
	return fmt.Sprintf("%s finished.\nTotal: %d\nSuccess: %d\nNot found: %d\nFailed: %d",
		title, result.Total(), len(result.Succeeded), len(result.NotFound), len(result.Failed))
}

// waveErrorMessage maps session errors onto user-facing text.
func waveErrorMessage(err error) string {
	switch {
	case errors.Is(err, wave.ErrSessionExpired):
		return "Your staged wave session has expired. Stage it again."
	case errors.Is(err, wave.ErrNoSession):
		return "You have no staged wave session. Stage one first."
	case errors.Is(err, wave.ErrWrongGuild):
		return "That wave session was staged in another server."
	default:
		return "The wave could not be run, please try again."
	}
}
