// Package ticket implements the support-ticket workflow: per-guild
// configuration, one open ticket per opener, a claim/status/close lifecycle,
// partner identity confirmation, and transcript capture on close.
package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/guildops/guildops/internal/audit"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/metrics"
	"github.com/guildops/guildops/internal/resolve"
	"github.com/guildops/guildops/internal/state"
)

const (
	// DefaultCloseDelay is the pause between the closing notice and the
	// channel deletion, giving participants a moment to read it.
	DefaultCloseDelay = 5 * time.Second

	maxTradeDetails = 500
	maxTradeTarget  = 120
	maxCloseReason  = 500

	transcriptLimit = 100
	previewLimit    = 30

	embedColor = 0x87cefa
)

// Component ids for the buttons the ticket workflow posts. The front end
// routes presses back by these ids.
const (
	ButtonOpen    = "ticket_open"
	ButtonClaim   = "ticket_claim"
	ButtonDone    = "ticket_done"
	ButtonClose   = "ticket_close"
	ConfirmPrefix = "ticket_confirm_target:"
)

// Actor identifies who is performing a ticket operation.
type Actor struct {
	ID    string
	Tag   string
	Admin bool
}

// Config configures the ticket manager.
type Config struct {
	// Gateway performs channel, permission, and message operations.
	Gateway gateway.Gateway

	// Store persists ticket configuration and lifecycle state.
	Store *state.Store

	// Resolver matches trade-partner queries to members; nil disables the
	// identity sub-flow.
	Resolver *resolve.Resolver

	// OwnerID always passes the support check.
	OwnerID string

	// FallbackLogChannelID receives close reports for guilds with no
	// configured log channel.
	FallbackLogChannelID string

	// CloseDelay is the pause before channel deletion. Zero selects
	// DefaultCloseDelay.
	CloseDelay time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Audit records lifecycle events; nil disables auditing.
	Audit *audit.Logger

	// Metrics records operation outcomes; nil disables metrics.
	Metrics *metrics.Metrics
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return gateway.ErrConfig("ticket manager requires a gateway", nil)
	}
	if c.Store == nil {
		return gateway.ErrConfig("ticket manager requires a state store", nil)
	}
	if c.CloseDelay == 0 {
		c.CloseDelay = DefaultCloseDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Manager runs the ticket workflow.
type Manager struct {
	gw         gateway.Gateway
	store      *state.Store
	resolver   *resolve.Resolver
	ownerID    string
	fallback   string
	closeDelay time.Duration
	logger     *slog.Logger
	audit      *audit.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewManager creates a ticket manager.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		gw:         config.Gateway,
		store:      config.Store,
		resolver:   config.Resolver,
		ownerID:    config.OwnerID,
		fallback:   config.FallbackLogChannelID,
		closeDelay: config.CloseDelay,
		logger:     config.Logger.With("component", "ticket"),
		audit:      config.Audit,
		metrics:    config.Metrics,
		now:        time.Now,
	}, nil
}

// SetNowFunc overrides the clock for tests.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.now = fn
}

// Config returns the guild's ticket configuration, or nil when the system has
// not been set up yet.
func (m *Manager) Config(guildID string) *state.TicketConfig {
	return m.store.Config(guildID)
}

// Logs returns the guild's lifecycle log, newest first.
func (m *Manager) Logs(guildID string) []*state.LogEntry {
	return m.store.Logs(guildID)
}

// Setup merges the given configuration over the guild's existing one.
func (m *Manager) Setup(ctx context.Context, guildID string, cfg *state.TicketConfig, actor Actor) error {
	if cfg.PanelChannelID == "" || cfg.CategoryID == "" {
		return gateway.ErrInvalidInput("panel channel and category are required", nil)
	}
	if cfg.PanelTitle == "" {
		cfg.PanelTitle = "Support Tickets"
	}
	if cfg.PanelDescription == "" {
		cfg.PanelDescription = "Need help? Click **Open Ticket** and our team will assist you."
	}

	if err := m.store.MergeConfig(guildID, cfg); err != nil {
		return err
	}
	m.logger.Info("ticket system configured",
		"guild_id", guildID,
		"panel_channel_id", cfg.PanelChannelID,
		"category_id", cfg.CategoryID)
	return nil
}

// Panel posts the ticket creation panel to the configured panel channel.
func (m *Manager) Panel(ctx context.Context, guildID string) error {
	cfg := m.store.Config(guildID)
	if cfg == nil {
		return gateway.ErrConfig("ticket system is not configured for this server", nil)
	}

	if _, err := m.gw.Channel(ctx, cfg.PanelChannelID); err != nil {
		return gateway.ErrInvalidInput("configured panel channel is invalid", err)
	}

	return m.gw.Send(ctx, cfg.PanelChannelID, &gateway.Outbound{
		Embed: &gateway.Embed{
			Title:       cfg.PanelTitle,
			Description: cfg.PanelDescription,
			Color:       embedColor,
			Timestamp:   true,
		},
		Buttons: []gateway.Button{
			{ID: ButtonOpen, Label: "Open Ticket", Style: gateway.ButtonPrimary},
		},
	})
}

// IsSupport reports whether the actor may run support-only ticket operations:
// the bot owner, a guild administrator, or a holder of the configured support
// role. The role check hits the gateway on every call so a revoked role takes
// effect immediately.
func (m *Manager) IsSupport(ctx context.Context, guildID string, actor Actor) bool {
	if actor.ID == m.ownerID && m.ownerID != "" {
		return true
	}
	if actor.Admin {
		return true
	}

	cfg := m.store.Config(guildID)
	if cfg == nil || cfg.SupportRoleID == "" {
		return false
	}
	member, err := m.gw.Member(ctx, guildID, actor.ID)
	if err != nil {
		return false
	}
	return member.HasRole(cfg.SupportRoleID)
}

// OpenRequest carries the opener's trade details.
type OpenRequest struct {
	// TradeTargetRaw is the free-text partner query (name, tag, or id).
	TradeTargetRaw string

	// TradeDetails describes the opener's side of the trade.
	TradeDetails string
}

// OpenResult reports what Open did.
type OpenResult struct {
	// Channel is the ticket channel, newly created or pre-existing.
	Channel *gateway.Channel

	// Ticket is the tracked record.
	Ticket *state.Ticket

	// Existing is true when the opener already had an open ticket and that
	// channel was returned instead of creating a new one.
	Existing bool

	// Match is the resolved trade partner, if any.
	Match *resolve.Match

	// Prompted is true when a confirmation prompt was posted for a
	// closest-match partner.
	Prompted bool
}

// Open creates a ticket channel for the opener, enforcing the one-open-ticket
// rule. A tracked ticket whose channel has been deleted out from under us is
// purged and replaced.
func (m *Manager) Open(ctx context.Context, guildID, openerID string, req *OpenRequest) (*OpenResult, error) {
	cfg := m.store.Config(guildID)
	if cfg == nil {
		m.countOp("open", errConfigMissing)
		return nil, gateway.ErrConfig("ticket system is not configured for this server", nil)
	}

	if existingID, existing, ok := m.store.FindOpenTicket(guildID, openerID); ok {
		channel, err := m.gw.Channel(ctx, existingID)
		if err == nil {
			m.countOp("open", nil)
			return &OpenResult{Channel: channel, Ticket: existing, Existing: true}, nil
		}
		if !gateway.IsNotFound(err) {
			m.countOp("open", err)
			return nil, err
		}
		// Stale record: the channel is gone, drop it and open fresh.
		if err := m.store.DeleteTicket(existingID); err != nil {
			m.countOp("open", err)
			return nil, err
		}
		m.logger.Warn("purged stale ticket record",
			"guild_id", guildID,
			"channel_id", existingID,
			"ticket_number", existing.TicketNumber)
	}

	var match *resolve.Match
	if m.resolver != nil && strings.TrimSpace(req.TradeTargetRaw) != "" {
		found, err := m.resolver.Resolve(ctx, guildID, req.TradeTargetRaw)
		if err != nil {
			m.logger.Warn("partner resolution failed", "guild_id", guildID, "error", err)
		} else {
			match = found
		}
		if m.metrics != nil {
			m.metrics.ResolveOutcome(matchConfidence(match))
		}
	}

	number, err := m.store.NextTicketNumber(guildID)
	if err != nil {
		m.countOp("open", err)
		return nil, err
	}

	channel, err := m.gw.CreateChannel(ctx, guildID, &gateway.ChannelCreate{
		Name:       fmt.Sprintf("ticket-%04d", number),
		ParentID:   cfg.CategoryID,
		Topic:      fmt.Sprintf("Ticket %d | Opened by %s", number, openerID),
		Overwrites: ticketOverwrites(guildID, openerID, m.gw.BotUserID(), cfg.SupportRoleID),
	})
	if err != nil {
		m.countOp("open", err)
		return nil, err
	}

	ticket := &state.Ticket{
		GuildID:        guildID,
		OpenerID:       openerID,
		TicketNumber:   number,
		Status:         state.Open,
		Priority:       "normal",
		TradeDetails:   truncate(req.TradeDetails, maxTradeDetails),
		TradeTargetRaw: truncate(req.TradeTargetRaw, maxTradeTarget),
		CreatedAt:      m.now(),
	}
	if match != nil {
		ticket.PendingTradePartner = match.Member.ID
		if match.Confidence.Exact() {
			ticket.TradePartnerID = match.Member.ID
			ticket.PendingTradePartner = ""
		}
	}
	if err := m.store.PutTicket(channel.ID, ticket); err != nil {
		m.countOp("open", err)
		return nil, err
	}

	m.send(ctx, channel.ID, &gateway.Outbound{Content: fmt.Sprintf("<@%s>", openerID)})
	m.postStatus(ctx, channel.ID, ticket)

	if err := m.store.AppendLog(guildID, &state.LogEntry{
		Type:         "opened",
		TicketNumber: number,
		OpenerID:     openerID,
		ChannelID:    channel.ID,
		Status:       ticket.Status.Display(),
		TradeDetails: ticket.TradeDetails,
		TradeTarget:  ticket.TradeTargetRaw,
	}); err != nil {
		m.logger.Warn("opened log append failed", "guild_id", guildID, "error", err)
	}

	result := &OpenResult{Channel: channel, Ticket: ticket, Match: match}
	m.partnerSubFlow(ctx, channel.ID, openerID, match, result)

	m.logger.Info("ticket opened",
		"guild_id", guildID,
		"channel_id", channel.ID,
		"ticket_number", number,
		"opener_id", openerID)
	if m.audit != nil {
		m.audit.LogTicket(ctx, audit.EventTicketOpened, guildID, openerID, channel.ID, number, nil)
	}
	m.countOp("open", nil)
	m.updateOpenGauge(guildID)
	return result, nil
}

// partnerSubFlow posts the identity-confirmation step after a ticket opens:
// an exact match gets channel access directly, a fuzzy match gets a
// confirmation prompt for the opener, and no match gets a manual-add note.
func (m *Manager) partnerSubFlow(ctx context.Context, channelID, openerID string, match *resolve.Match, result *OpenResult) {
	switch {
	case match != nil && match.Confidence.Exact():
		if err := m.gw.GrantAccess(ctx, channelID, match.Member.ID, gateway.OverwriteMember); err != nil {
			m.logger.Warn("partner access grant failed",
				"channel_id", channelID,
				"partner_id", match.Member.ID,
				"error", err)
		}
	case match != nil:
		m.send(ctx, channelID, &gateway.Outbound{
			Content: fmt.Sprintf("<@%s> is this the right username? <@%s> (%s)",
				openerID, match.Member.ID, match.Member.Tag),
			Buttons: []gateway.Button{
				{ID: ConfirmPrefix + match.Member.ID, Label: "Yes", Style: gateway.ButtonPrimary},
			},
		})
		result.Prompted = true
	default:
		m.send(ctx, channelID, &gateway.Outbound{
			Content: "I could not confidently match that user from this server. Support can add them with `ticket add <userId>` once verified.",
		})
	}
}

// ticketOverwrites builds the ticket channel's permission set: hidden from
// everyone, viewer access for the opener and support role, operator access
// for the acting bot account.
func ticketOverwrites(guildID, openerID, botID, supportRoleID string) []gateway.Overwrite {
	overwrites := []gateway.Overwrite{
		{TargetID: guildID, Kind: gateway.OverwriteRole, Access: gateway.AccessHidden},
		{TargetID: openerID, Kind: gateway.OverwriteMember, Access: gateway.AccessViewer},
		{TargetID: botID, Kind: gateway.OverwriteMember, Access: gateway.AccessOperator},
	}
	if supportRoleID != "" {
		overwrites = append(overwrites, gateway.Overwrite{
			TargetID: supportRoleID,
			Kind:     gateway.OverwriteRole,
			Access:   gateway.AccessViewer,
		})
	}
	return overwrites
}

// send delivers a message best-effort; the workflow never fails on a missed
// notification.
func (m *Manager) send(ctx context.Context, channelID string, out *gateway.Outbound) {
	if err := m.gw.Send(ctx, channelID, out); err != nil {
		m.logger.Warn("ticket message send failed", "channel_id", channelID, "error", err)
	}
}

func (m *Manager) countOp(operation string, err error) {
	if m.metrics != nil {
		m.metrics.TicketOperation(operation, err)
	}
}

func (m *Manager) updateOpenGauge(guildID string) {
	if m.metrics != nil {
		m.metrics.OpenTickets.WithLabelValues(guildID).Set(float64(m.store.OpenTicketCount(guildID)))
	}
}

func matchConfidence(match *resolve.Match) string {
	if match == nil {
		return "none"
	}
	return string(match.Confidence)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max])
	}
	return s
}

var errConfigMissing = gateway.ErrConfig("ticket system is not configured", nil)
