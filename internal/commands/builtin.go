package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/ids"
	"github.com/guildops/guildops/internal/state"
	"github.com/guildops/guildops/internal/ticket"
	"github.com/guildops/guildops/internal/wave"
)

// Component ids for the wave run buttons posted by the staging commands. The
// front end routes presses back by these ids.
const (
	ButtonDemoRun  = "demo_submit_ids"
	ButtonPromoRun = "promo_submit_ids"
)

// maxLogLines bounds the ticketlogs listing.
const maxLogLines = 10

// Deps are the services the built-in commands operate on.
type Deps struct {
	Waves   *wave.Engine
	Tickets *ticket.Manager
	Version string
}

// RegisterBuiltins registers the built-in commands.
func RegisterBuiltins(r *Registry, deps Deps) error {
	builtins := []*Command{
		{
			Name:        "help",
			Aliases:     []string{"h", "commands"},
			Description: "Show available commands",
			Usage:       "help [command]",
			AcceptsArgs: true,
			Category:    "system",
			Handler:     helpHandler(r),
		},
		{
			Name:        "version",
			Aliases:     []string{"about"},
			Description: "Show the bot version",
			Category:    "system",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				return &Result{Text: "guildops " + deps.Version}, nil
			},
		},
		{
			Name:        "demo",
			Aliases:     []string{"demowave"},
			Description: "Stage a demotion wave for the listed members",
			Usage:       "demo <user ids or mentions...>",
			AcceptsArgs: true,
			AdminOnly:   true,
			Category:    "waves",
			Handler:     stageHandler(deps.Waves, wave.KindDemote, ButtonDemoRun),
		},
		{
			Name:        "promo",
			Aliases:     []string{"promowave"},
			Description: "Stage a promotion wave for the listed members",
			Usage:       "promo <user ids or mentions...>",
			AcceptsArgs: true,
			AdminOnly:   true,
			Category:    "waves",
			Handler:     stageHandler(deps.Waves, wave.KindPromote, ButtonPromoRun),
		},
		{
			Name:        "wavecancel",
			Description: "Discard your staged wave session",
			AdminOnly:   true,
			Category:    "waves",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				deps.Waves.Store().Delete(inv.UserID)
				return &Result{Text: "Your staged wave session has been discarded.", Private: true}, nil
			},
		},
		{
			Name:        "ticketsetup",
			Description: "Configure the ticket system",
			Usage:       "ticketsetup <panel channel> <category> [support role] [log channel]",
			AcceptsArgs: true,
			AdminOnly:   true,
			Category:    "tickets",
			Handler:     setupHandler(deps.Tickets),
		},
		{
			Name:        "ticketpanel",
			Description: "Post the ticket creation panel",
			AdminOnly:   true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if err := deps.Tickets.Panel(ctx, inv.GuildID); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: "Ticket panel posted.", Private: true}, nil
			},
		},
		{
			Name:        "new",
			Aliases:     []string{"openticket"},
			Description: "Open a support ticket",
			Usage:       "new [trade partner]",
			AcceptsArgs: true,
			Category:    "tickets",
			Handler:     openHandler(deps.Tickets),
		},
		{
			Name:        "claim",
			Description: "Claim the current ticket",
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if _, err := deps.Tickets.Claim(ctx, inv.ChannelID, actor(inv)); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: fmt.Sprintf("Ticket claimed by <@%s>.", inv.UserID)}, nil
			},
		},
		{
			Name:        "unclaim",
			Description: "Release your claim on the current ticket",
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if _, err := deps.Tickets.Unclaim(ctx, inv.ChannelID, actor(inv)); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: "Ticket unclaimed."}, nil
			},
		},
		{
			Name:        "priority",
			Description: "Set the ticket priority",
			Usage:       "priority <low|normal|high|urgent>",
			AcceptsArgs: true,
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if _, err := deps.Tickets.SetPriority(ctx, inv.ChannelID, inv.Args, actor(inv)); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: "Priority updated."}, nil
			},
		},
		{
			Name:        "status",
			Description: "Set a custom ticket status",
			Usage:       "status <text>",
			AcceptsArgs: true,
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if _, err := deps.Tickets.SetStatus(ctx, inv.ChannelID, inv.Args, actor(inv)); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: "Status updated."}, nil
			},
		},
		{
			Name:        "done",
			Description: "Mark the ticket's trade as completed",
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if _, err := deps.Tickets.Done(ctx, inv.ChannelID, actor(inv)); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: "Trade marked as done."}, nil
			},
		},
		{
			Name:        "add",
			Description: "Grant a member access to the current ticket",
			Usage:       "add <user id or mention>",
			AcceptsArgs: true,
			SupportOnly: true,
			Category:    "tickets",
			Handler:     accessHandler(deps.Tickets, true),
		},
		{
			Name:        "remove",
			Description: "Revoke a member's access to the current ticket",
			Usage:       "remove <user id or mention>",
			AcceptsArgs: true,
			SupportOnly: true,
			Category:    "tickets",
			Handler:     accessHandler(deps.Tickets, false),
		},
		{
			Name:        "close",
			Description: "Close the current ticket",
			Usage:       "close [reason]",
			AcceptsArgs: true,
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				if err := deps.Tickets.Close(ctx, inv.ChannelID, actor(inv), inv.Args); err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Suppress: true}, nil
			},
		},
		{
			Name:        "transcript",
			Description: "Preview the ticket's recent messages",
			SupportOnly: true,
			Category:    "tickets",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				preview, err := deps.Tickets.TranscriptPreview(ctx, inv.ChannelID)
				if err != nil {
					return &Result{Error: userMessage(err)}, nil
				}
				return &Result{Text: "```\n" + preview + "\n```", Private: true}, nil
			},
		},
		{
			Name:        "ticketlogs",
			Aliases:     []string{"tlogs"},
			Description: "Show recent ticket activity",
			SupportOnly: true,
			Category:    "tickets",
			Handler:     logsHandler(deps.Tickets),
		},
	}

	for _, cmd := range builtins {
		if err := r.Register(cmd); err != nil {
			return fmt.Errorf("register builtin %q: %w", cmd.Name, err)
		}
	}
	return nil
}

// stageHandler builds the handler for the demo and promo commands: it stages
// a wave session and replies with the run button.
func stageHandler(waves *wave.Engine, kind wave.Kind, runButton string) Handler {
	label := "demotion"
	if kind == wave.KindPromote {
		label = "promotion"
	}
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		session, err := waves.Stage(inv.UserID, inv.GuildID, kind, inv.Args)
		if err != nil {
			return &Result{Error: userMessage(err)}, nil
		}
		return &Result{
			Text: fmt.Sprintf("Staged %d member(s) for a %s wave. Press Run within %s to execute.",
				len(session.TargetIDs), label, wave.DefaultSessionTTL),
			Buttons: []gateway.Button{
				{ID: runButton, Label: "Run Wave", Style: gateway.ButtonDanger},
			},
		}, nil
	}
}

// openHandler opens a ticket from a text command. The argument, when
// present, is treated as the trade partner query.
func openHandler(tickets *ticket.Manager) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		result, err := tickets.Open(ctx, inv.GuildID, inv.UserID, &ticket.OpenRequest{
			TradeTargetRaw: strings.TrimSpace(inv.Args),
		})
		if err != nil {
			return &Result{Error: userMessage(err), Private: true}, nil
		}
		if result.Existing {
			return &Result{
				Text:    fmt.Sprintf("You already have an open ticket: <#%s>", result.Channel.ID),
				Private: true,
			}, nil
		}
		return &Result{
			Text:    fmt.Sprintf("Your ticket is ready: <#%s>", result.Channel.ID),
			Private: true,
		}, nil
	}
}

// setupHandler parses the ticketsetup arguments. Each positional argument is
// an id or mention; order is panel channel, category, support role, log
// channel.
func setupHandler(tickets *ticket.Manager) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		fields := strings.Fields(inv.Args)
		parsed := make([]string, 0, len(fields))
		for _, field := range fields {
			if id := ids.First(field); id != "" {
				parsed = append(parsed, id)
			}
		}
		if len(parsed) < 2 {
			return &Result{Error: "Usage: ticketsetup <panel channel> <category> [support role] [log channel]"}, nil
		}

		cfg := &state.TicketConfig{
			PanelChannelID: parsed[0],
			CategoryID:     parsed[1],
		}
		if len(parsed) > 2 {
			cfg.SupportRoleID = parsed[2]
		}
		if len(parsed) > 3 {
			cfg.LogChannelID = parsed[3]
		}

		if err := tickets.Setup(ctx, inv.GuildID, cfg, actor(inv)); err != nil {
			return &Result{Error: userMessage(err)}, nil
		}
		return &Result{Text: "Ticket system configured. Run `ticketpanel` to post the panel.", Private: true}, nil
	}
}

func accessHandler(tickets *ticket.Manager, grant bool) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		userID := ids.First(inv.Args)
		if userID == "" {
			return &Result{Error: "Provide a user id or mention."}, nil
		}

		var err error
		if grant {
			err = tickets.AddAccess(ctx, inv.ChannelID, userID, actor(inv))
		} else {
			err = tickets.RemoveAccess(ctx, inv.ChannelID, userID, actor(inv))
		}
		if err != nil {
			return &Result{Error: userMessage(err)}, nil
		}

		if grant {
			return &Result{Text: fmt.Sprintf("<@%s> now has access to this ticket.", userID)}, nil
		}
		return &Result{Text: fmt.Sprintf("<@%s> no longer has access to this ticket.", userID)}, nil
	}
}

func logsHandler(tickets *ticket.Manager) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		entries := tickets.Logs(inv.GuildID)
		if len(entries) == 0 {
			return &Result{Text: "No ticket activity recorded yet.", Private: true}, nil
		}
		if len(entries) > maxLogLines {
			entries = entries[:maxLogLines]
		}

		var b strings.Builder
		for _, entry := range entries {
			fmt.Fprintf(&b, "#%d %s by <@%s> at %s\n",
				entry.TicketNumber,
				entry.Type,
				entry.OpenerID,
				entry.CreatedAt.Format("2006-01-02 15:04"))
		}
		return &Result{
			Embed: &gateway.Embed{
				Title:       "Recent Ticket Activity",
				Description: b.String(),
				Color:       0x87cefa,
			},
			Private: true,
		}, nil
	}
}

// helpHandler renders the command listing, or detail for a single command.
func helpHandler(r *Registry) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		query := strings.TrimSpace(inv.Args)
		if query != "" {
			cmd, found := r.Get(strings.TrimPrefix(query, "!"))
			if !found {
				return &Result{Error: fmt.Sprintf("Unknown command %q.", query)}, nil
			}
			text := fmt.Sprintf("**%s** - %s", cmd.Name, cmd.Description)
			if cmd.Usage != "" {
				text += "\nUsage: `" + cmd.Usage + "`"
			}
			if len(cmd.Aliases) > 0 {
				text += "\nAliases: " + strings.Join(cmd.Aliases, ", ")
			}
			return &Result{Text: text, Private: true}, nil
		}

		byCategory := r.ListByCategory()
		categories := make([]string, 0, len(byCategory))
		for category := range byCategory {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		var b strings.Builder
		for _, category := range categories {
			fmt.Fprintf(&b, "**%s**\n", titleCase(category))
			for _, cmd := range byCategory[category] {
				fmt.Fprintf(&b, "`%s` - %s\n", cmd.Name, cmd.Description)
			}
			b.WriteString("\n")
		}
		return &Result{
			Embed: &gateway.Embed{
				Title:       "Commands",
				Description: strings.TrimSpace(b.String()),
				Color:       0x87cefa,
			},
			Private: true,
		}, nil
	}
}

func actor(inv *Invocation) ticket.Actor {
	return ticket.Actor{ID: inv.UserID, Tag: inv.ActorTag, Admin: inv.IsAdmin}
}

// userMessage maps an error to user-facing text, keeping internal failures
// vague.
func userMessage(err error) string {
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

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
