// Package bot is the Discord front end: it owns the gateway session, routes
// prefix commands through the command registry, and drives the button and
// modal interactions for waves and tickets.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildops/guildops/internal/audit"
	"github.com/guildops/guildops/internal/commands"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/ticket"
	"github.com/guildops/guildops/internal/wave"
)

// session is the slice of discordgo.Session the bot uses, extracted so tests
// can substitute a fake.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	InteractionRespond(i *discordgo.Interaction, r *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(i *discordgo.Interaction, r *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config configures the bot front end.
type Config struct {
	// Session is an unopened discordgo session (required).
	Session *discordgo.Session

	// Gateway performs platform operations for command replies.
	Gateway gateway.Gateway

	// Registry routes prefix commands.
	Registry *commands.Registry

	// Waves executes staged role waves.
	Waves *wave.Engine

	// Tickets runs the ticket workflow.
	Tickets *ticket.Manager

	// Prefix is the text command prefix.
	Prefix string

	// OwnerID always passes every permission check.
	OwnerID string

	// AllowedRoleIDs grant admin command access alongside guild
	// administrators.
	AllowedRoleIDs []string

	// MaxConnectAttempts bounds the initial connection retry loop.
	MaxConnectAttempts int

	// ConnectBackoff caps the exponential backoff between attempts.
	ConnectBackoff time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Audit records lifecycle events; nil disables auditing.
	Audit *audit.Logger
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Session == nil {
		return gateway.ErrConfig("bot requires a discord session", nil)
	}
	if c.Gateway == nil {
		return gateway.ErrConfig("bot requires a gateway", nil)
	}
	if c.Registry == nil {
		return gateway.ErrConfig("bot requires a command registry", nil)
	}
	if c.Waves == nil {
		return gateway.ErrConfig("bot requires a wave engine", nil)
	}
	if c.Tickets == nil {
		return gateway.ErrConfig("bot requires a ticket manager", nil)
	}
	if c.Prefix == "" {
		c.Prefix = commands.DefaultPrefix
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = 5
	}
	if c.ConnectBackoff == 0 {
		c.ConnectBackoff = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Bot wires Discord events to the workflow engines.
type Bot struct {
	session      session
	gw           gateway.Gateway
	registry     *commands.Registry
	parser       *commands.Parser
	waves        *wave.Engine
	tickets      *ticket.Manager
	ownerID      string
	allowedRoles []string
	maxAttempts  int
	maxBackoff   time.Duration
	logger       *slog.Logger
	audit        *audit.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the bot front end.
func New(config Config) (*Bot, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Bot{
		session:      config.Session,
		gw:           config.Gateway,
		registry:     config.Registry,
		parser:       commands.NewParser(config.Prefix),
		waves:        config.Waves,
		tickets:      config.Tickets,
		ownerID:      config.OwnerID,
		allowedRoles: config.AllowedRoleIDs,
		maxAttempts:  config.MaxConnectAttempts,
		maxBackoff:   config.ConnectBackoff,
		logger:       config.Logger.With("component", "bot"),
		audit:        config.Audit,
	}, nil
}

// Start registers the event handlers and opens the gateway connection,
// retrying with exponential backoff. Reconnects after transient drops are
// handled by the session itself.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return gateway.ErrInternal("bot already started", nil)
	}

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(b.handleInteractionCreate)

	if err := b.connectWithRetry(ctx); err != nil {
		return gateway.ErrConnection("failed to connect to discord", err)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.started = true
	if b.audit != nil {
		b.audit.Log(ctx, &audit.Event{
			Type:   audit.EventBotStartup,
			Level:  audit.LevelInfo,
			Action: "bot started",
		})
	}
	return nil
}

// Stop cancels in-flight work and closes the gateway connection.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("stop timeout, abandoning in-flight work")
	}

	err := b.session.Close()
	b.started = false
	if b.audit != nil {
		b.audit.Log(ctx, &audit.Event{
			Type:   audit.EventBotShutdown,
			Level:  audit.LevelInfo,
			Action: "bot stopped",
		})
	}
	if err != nil {
		return gateway.ErrConnection("failed to close discord session", err)
	}
	return nil
}

func (b *Bot) connectWithRetry(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		b.logger.Info("connecting to discord",
			"attempt", attempt+1,
			"max_attempts", b.maxAttempts)

		err = b.session.Open()
		if err == nil {
			return nil
		}

		backoff := calculateBackoff(attempt, b.maxBackoff)
		b.logger.Warn("connection failed, retrying",
			"error", err,
			"backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("discord connection ready",
		"user", r.User.Username,
		"guilds", len(r.Guilds))
}

// calculateBackoff doubles per attempt starting at one second, capped at
// maxWait.
func calculateBackoff(attempt int, maxWait time.Duration) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxWait {
		backoff = maxWait
	}
	return backoff
}

// guildName is best-effort; wave reports fall back to the bare id.
func (b *Bot) guildName(guildID string) string {
	guild, err := b.session.Guild(guildID)
	if err != nil || guild == nil {
		return ""
	}
	return guild.Name
}
