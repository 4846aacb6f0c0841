package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/guildops/guildops/internal/audit"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/report"
	"github.com/guildops/guildops/internal/state"
)

// Close ends a ticket: it captures a transcript, delivers the close report to
// the log channel, removes the ticket from the open map, and deletes the
// channel after a short delay. The ticket leaves the open map even when the
// report cannot be delivered; only a channel that was never a ticket fails.
func (m *Manager) Close(ctx context.Context, channelID string, actor Actor, closeReason string) error {
	t, err := m.Ticket(channelID)
	if err != nil {
		m.countOp("close", err)
		return err
	}

	closedBy := actor.Tag
	if closedBy == "" {
		closedBy = "Unknown"
	}

	if err := m.store.UpdateTicket(channelID, func(t *state.Ticket) error {
		if closeReason != "" {
			t.CloseReason = truncate(closeReason, maxCloseReason)
		}
		t.Status = state.Closed
		return nil
	}); err != nil {
		m.countOp("close", err)
		return err
	}
	if updated, ok := m.store.Ticket(channelID); ok {
		t = updated
	}

	reason := t.CloseReason
	if reason == "" {
		reason = "No reason provided"
	}
	priority := t.Priority
	if priority == "" {
		priority = "normal"
	}

	if err := m.store.AppendLog(t.GuildID, &state.LogEntry{
		Type:         "closed",
		TicketNumber: t.TicketNumber,
		OpenerID:     t.OpenerID,
		ChannelID:    channelID,
		Status:       t.Status.Display(),
		ClosedBy:     closedBy,
		CloseReason:  reason,
		Priority:     priority,
		ClaimedBy:    t.ClaimedBy,
		TradeDetails: t.TradeDetails,
		TradePartner: t.TradePartnerID,
	}); err != nil {
		m.logger.Warn("closed log append failed", "guild_id", t.GuildID, "error", err)
	}

	transcript := m.transcript(ctx, channelID, transcriptLimit)
	m.deliverCloseReport(ctx, channelID, t, closedBy, reason, transcript)

	if err := m.store.DeleteTicket(channelID); err != nil {
		m.countOp("close", err)
		return err
	}

	m.logger.Info("ticket closed",
		"guild_id", t.GuildID,
		"channel_id", channelID,
		"ticket_number", t.TicketNumber,
		"closed_by", closedBy)
	if m.audit != nil {
		m.audit.LogTicket(ctx, audit.EventTicketClosed, t.GuildID, actor.ID, channelID, t.TicketNumber,
			map[string]any{"close_reason": reason})
	}
	m.countOp("close", nil)
	m.updateOpenGauge(t.GuildID)

	m.send(ctx, channelID, &gateway.Outbound{Content: "Closing ticket in 5 seconds..."})
	if err := sleepCtx(ctx, m.closeDelay); err != nil {
		return err
	}
	if err := m.gw.DeleteChannel(ctx, channelID, "Ticket closed by "+closedBy); err != nil {
		m.logger.Warn("ticket channel delete failed", "channel_id", channelID, "error", err)
	}
	return nil
}

// TranscriptPreview renders an abbreviated transcript of the ticket channel's
// recent messages.
func (m *Manager) TranscriptPreview(ctx context.Context, channelID string) (string, error) {
	if _, err := m.Ticket(channelID); err != nil {
		return "", err
	}
	messages, err := m.gw.Messages(ctx, channelID, previewLimit)
	if err != nil {
		return "", err
	}
	return report.TranscriptPreview(messages), nil
}

// transcript fetches recent messages and renders the full close transcript.
// Fetch failures degrade to an empty transcript rather than blocking close.
func (m *Manager) transcript(ctx context.Context, channelID string, limit int) string {
	messages, err := m.gw.Messages(ctx, channelID, limit)
	if err != nil {
		m.logger.Warn("transcript fetch failed", "channel_id", channelID, "error", err)
		messages = nil
	}
	return report.Transcript(messages)
}

// deliverCloseReport sends the close embed plus transcript attachment to the
// guild's log channel, falling back to the global one. Delivery failure is
// logged and swallowed.
func (m *Manager) deliverCloseReport(ctx context.Context, channelID string, t *state.Ticket, closedBy, reason, transcript string) {
	target := m.fallback
	if cfg := m.store.Config(t.GuildID); cfg != nil && cfg.LogChannelID != "" {
		target = cfg.LogChannelID
	}
	if target == "" {
		return
	}

	channelName := fmt.Sprintf("ticket-%04d", t.TicketNumber)
	if channel, err := m.gw.Channel(ctx, channelID); err == nil {
		channelName = channel.Name
	}

	claimedBy := "Unclaimed"
	if t.ClaimedBy != "" {
		claimedBy = fmt.Sprintf("<@%s>", t.ClaimedBy)
	}

	out := &gateway.Outbound{
		Embed: &gateway.Embed{
			Title: fmt.Sprintf("Ticket #%d Closed", t.TicketNumber),
			Color: embedColor,
			Fields: []gateway.EmbedField{
				{Name: "Ticket channel", Value: fmt.Sprintf("%s (%s)", channelName, channelID)},
				{Name: "Opened by", Value: fmt.Sprintf("<@%s> (%s)", t.OpenerID, t.OpenerID)},
				{Name: "Closed by", Value: closedBy},
				{Name: "Priority", Value: report.TitleCase(t.Priority, "Normal"), Inline: true},
				{Name: "Claimed by", Value: claimedBy, Inline: true},
				{Name: "Reason", Value: reason},
			},
			Timestamp: true,
		},
		File: &gateway.File{
			Name: fmt.Sprintf("ticket-%d-transcript.txt", t.TicketNumber),
			Data: []byte(transcript),
		},
	}
	if err := m.gw.Send(ctx, target, out); err != nil {
		m.logger.Warn("close report delivery failed",
			"channel_id", target,
			"ticket_number", t.TicketNumber,
			"error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
