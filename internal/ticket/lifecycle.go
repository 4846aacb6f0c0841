package ticket

import (
	"context"
	"fmt"
	"strings"

	"github.com/guildops/guildops/internal/audit"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/report"
	"github.com/guildops/guildops/internal/state"
)

// NormalizePriority maps free-form input onto the priority scale, returning
// "" for anything outside it.
func NormalizePriority(input string) string {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "low":
		return "low"
	case "normal":
		return "normal"
	case "high":
		return "high"
	case "urgent":
		return "urgent"
	default:
		return ""
	}
}

// Ticket returns the tracked ticket for a channel, or a not-found error when
// the channel is not an open ticket.
func (m *Manager) Ticket(channelID string) (*state.Ticket, error) {
	t, ok := m.store.Ticket(channelID)
	if !ok {
		return nil, gateway.ErrNotFound("this channel is not tracked as an open ticket", nil)
	}
	return t, nil
}

// Claim assigns the ticket to the actor. The first claim stamps the
// first-response time; re-claiming by the same actor is a no-op, claiming
// over someone else is refused.
func (m *Manager) Claim(ctx context.Context, channelID string, actor Actor) (*state.Ticket, error) {
	t, err := m.mutateTicket(ctx, channelID, "claim", func(t *state.Ticket) error {
		if t.ClaimedBy != "" && t.ClaimedBy != actor.ID {
			return gateway.ErrInvalidInput(fmt.Sprintf("this ticket is already claimed by <@%s>", t.ClaimedBy), nil)
		}
		t.ClaimedBy = actor.ID
		if t.FirstResponseAt.IsZero() {
			t.FirstResponseAt = m.now()
		}
		t.Status = state.Claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.auditTicket(ctx, audit.EventTicketClaimed, t, actor, channelID, nil)
	return t, nil
}

// Unclaim releases the ticket. Only the claimer or the bot owner may release
// someone else's claim.
func (m *Manager) Unclaim(ctx context.Context, channelID string, actor Actor) (*state.Ticket, error) {
	t, err := m.mutateTicket(ctx, channelID, "unclaim", func(t *state.Ticket) error {
		if t.ClaimedBy != "" && t.ClaimedBy != actor.ID && actor.ID != m.ownerID {
			return gateway.ErrPermission("only the support member who claimed this ticket can unclaim it", nil)
		}
		t.ClaimedBy = ""
		t.Status = state.Open
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.auditTicket(ctx, audit.EventTicketUnclaimed, t, actor, channelID, nil)
	return t, nil
}

// SetPriority sets the ticket's priority level.
func (m *Manager) SetPriority(ctx context.Context, channelID, priority string, actor Actor) (*state.Ticket, error) {
	normalized := NormalizePriority(priority)
	if normalized == "" {
		m.countOp("priority", gateway.ErrInvalidInput("bad priority", nil))
		return nil, gateway.ErrInvalidInput("priority must be one of low, normal, high, urgent", nil)
	}

	t, err := m.mutateTicket(ctx, channelID, "priority", func(t *state.Ticket) error {
		t.Priority = normalized
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.auditTicket(ctx, audit.EventTicketPriority, t, actor, channelID, map[string]any{"priority": normalized})
	return t, nil
}

// SetStatus replaces the ticket's workflow status with a free-text label.
func (m *Manager) SetStatus(ctx context.Context, channelID, label string, actor Actor) (*state.Ticket, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		m.countOp("status", gateway.ErrInvalidInput("empty status", nil))
		return nil, gateway.ErrInvalidInput("status text is required", nil)
	}

	t, err := m.mutateTicket(ctx, channelID, "status", func(t *state.Ticket) error {
		t.Status = state.CustomStatus(label)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.auditTicket(ctx, audit.EventTicketStatus, t, actor, channelID, map[string]any{"status": t.Status.Display()})
	return t, nil
}

// Done marks the ticket's trade as completed.
func (m *Manager) Done(ctx context.Context, channelID string, actor Actor) (*state.Ticket, error) {
	t, err := m.mutateTicket(ctx, channelID, "done", func(t *state.Ticket) error {
		t.Status = state.Done
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.auditTicket(ctx, audit.EventTicketStatus, t, actor, channelID, map[string]any{"status": t.Status.Display()})
	return t, nil
}

// ConfirmPartner grants the confirmed trade partner access to the channel and
// records the confirmation.
func (m *Manager) ConfirmPartner(ctx context.Context, channelID, partnerID string, actor Actor) (*state.Ticket, error) {
	if err := m.gw.GrantAccess(ctx, channelID, partnerID, gateway.OverwriteMember); err != nil {
		m.countOp("confirm", err)
		return nil, err
	}

	t, err := m.mutateTicket(ctx, channelID, "confirm", func(t *state.Ticket) error {
		t.TradePartnerID = partnerID
		t.PendingTradePartner = ""
		t.Status = state.UserConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.auditTicket(ctx, audit.EventTicketStatus, t, actor, channelID, map[string]any{"partner_id": partnerID})
	return t, nil
}

// AddAccess grants a member the viewer permission set on the ticket channel.
func (m *Manager) AddAccess(ctx context.Context, channelID, userID string, actor Actor) error {
	if _, err := m.Ticket(channelID); err != nil {
		m.countOp("access", err)
		return err
	}
	if err := m.gw.GrantAccess(ctx, channelID, userID, gateway.OverwriteMember); err != nil {
		m.countOp("access", err)
		return err
	}
	t, _ := m.store.Ticket(channelID)
	m.auditTicket(ctx, audit.EventTicketAccess, t, actor, channelID, map[string]any{"user_id": userID, "granted": true})
	m.countOp("access", nil)
	return nil
}

// RemoveAccess revokes a member's overwrite on the ticket channel. A missing
// overwrite is not an error.
func (m *Manager) RemoveAccess(ctx context.Context, channelID, userID string, actor Actor) error {
	if _, err := m.Ticket(channelID); err != nil {
		m.countOp("access", err)
		return err
	}
	if err := m.gw.RevokeAccess(ctx, channelID, userID); err != nil && !gateway.IsNotFound(err) {
		m.countOp("access", err)
		return err
	}
	t, _ := m.store.Ticket(channelID)
	m.auditTicket(ctx, audit.EventTicketAccess, t, actor, channelID, map[string]any{"user_id": userID, "granted": false})
	m.countOp("access", nil)
	return nil
}

// mutateTicket applies fn to the tracked ticket, persists it, reposts the
// status message, and returns the updated record.
func (m *Manager) mutateTicket(ctx context.Context, channelID, operation string, fn func(*state.Ticket) error) (*state.Ticket, error) {
	if _, ok := m.store.Ticket(channelID); !ok {
		err := gateway.ErrNotFound("this channel is not tracked as an open ticket", nil)
		m.countOp(operation, err)
		return nil, err
	}

	if err := m.store.UpdateTicket(channelID, fn); err != nil {
		m.countOp(operation, err)
		return nil, err
	}

	t, _ := m.store.Ticket(channelID)
	m.postStatus(ctx, channelID, t)
	m.countOp(operation, nil)
	return t, nil
}

func (m *Manager) auditTicket(ctx context.Context, eventType audit.EventType, t *state.Ticket, actor Actor, channelID string, details map[string]any) {
	if m.audit == nil || t == nil {
		return
	}
	m.audit.LogTicket(ctx, eventType, t.GuildID, actor.ID, channelID, t.TicketNumber, details)
}

// postStatus replaces the ticket's pinned status card: current status,
// priority, claimer, and trade context, with the lifecycle buttons attached.
func (m *Manager) postStatus(ctx context.Context, channelID string, t *state.Ticket) {
	m.send(ctx, channelID, &gateway.Outbound{
		Embed:   statusEmbed(t),
		Buttons: statusButtons(),
	})
}

func statusEmbed(t *state.Ticket) *gateway.Embed {
	tradingWith := "Pending confirmation"
	if t.TradePartnerID != "" {
		tradingWith = fmt.Sprintf("<@%s>", t.TradePartnerID)
	} else if t.TradeTargetRaw != "" {
		tradingWith = t.TradeTargetRaw
	}

	claimedBy := "Unclaimed"
	if t.ClaimedBy != "" {
		claimedBy = fmt.Sprintf("<@%s>", t.ClaimedBy)
	}

	tradeOffer := t.TradeDetails
	if tradeOffer == "" {
		tradeOffer = "Not provided"
	}

	return &gateway.Embed{
		Title:       fmt.Sprintf("Ticket #%d", t.TicketNumber),
		Description: "Support will be with you shortly. Use the controls below to manage this ticket.",
		Color:       embedColor,
		Fields: []gateway.EmbedField{
			{Name: "Status", Value: report.TitleCase(t.Status.Display(), "Open"), Inline: true},
			{Name: "Priority", Value: report.TitleCase(t.Priority, "Normal"), Inline: true},
			{Name: "Claimed by", Value: claimedBy, Inline: true},
			{Name: "Trading With", Value: tradingWith},
			{Name: "Trade Offer", Value: tradeOffer},
		},
		Timestamp: true,
	}
}

func statusButtons() []gateway.Button {
	return []gateway.Button{
		{ID: ButtonClaim, Label: "Claim Ticket", Style: gateway.ButtonSecondary},
		{ID: ButtonDone, Label: "Trade Done", Style: gateway.ButtonSuccess},
		{ID: ButtonClose, Label: "Close Ticket", Style: gateway.ButtonDanger},
	}
}
