package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/guildops/guildops/internal/audit"
	"github.com/guildops/guildops/internal/bot"
	"github.com/guildops/guildops/internal/commands"
	"github.com/guildops/guildops/internal/config"
	"github.com/guildops/guildops/internal/gateway"
	"github.com/guildops/guildops/internal/metrics"
	"github.com/guildops/guildops/internal/observability"
	"github.com/guildops/guildops/internal/resolve"
	"github.com/guildops/guildops/internal/state"
	"github.com/guildops/guildops/internal/ticket"
	"github.com/guildops/guildops/internal/wave"
)

// runServe implements the serve command logic.
// It handles configuration loading, subsystem wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	slog.Info("starting GuildOps",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	// Load and validate configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"prefix", cfg.Bot.Prefix,
		"session_ttl", cfg.Wave.SessionTTL,
		"state_path", cfg.Tickets.StatePath,
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	// Metrics are optional; a nil *metrics.Metrics disables recording.
	var (
		m             *metrics.Metrics
		metricsServer *http.Server
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	store, err := state.Load(cfg.Tickets.StatePath, logger)
	if err != nil {
		return fmt.Errorf("failed to load ticket state: %w", err)
	}

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		Level:         audit.Level(cfg.Audit.Level),
		Format:        audit.OutputFormat(cfg.Audit.Format),
		Output:        cfg.Audit.Output,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit logging: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	// The bot account id is needed before the gateway connection opens,
	// so fetch it over REST.
	me, err := session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to identify bot account: %w", err)
	}

	gw, err := gateway.NewDiscord(gateway.DiscordConfig{
		Session:   session,
		BotUserID: me.ID,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	sessions := wave.NewSessionStore(cfg.Wave.SessionTTL, logger)
	engine, err := wave.NewEngine(wave.Config{
		Gateway:      gw,
		Store:        sessions,
		StepDelay:    cfg.Wave.StepDelay,
		LogChannelID: cfg.Wave.LogChannelID,
		Logger:       logger,
		Audit:        auditLogger,
		Metrics:      m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize wave engine: %w", err)
	}

	tickets, err := ticket.NewManager(ticket.Config{
		Gateway:              gw,
		Store:                store,
		Resolver:             resolve.New(gw, logger),
		OwnerID:              cfg.Bot.OwnerID,
		FallbackLogChannelID: cfg.Tickets.FallbackLogChannelID,
		CloseDelay:           cfg.Tickets.CloseDelay,
		Logger:               logger,
		Audit:                auditLogger,
		Metrics:              m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ticket manager: %w", err)
	}

	registry := commands.NewRegistry(logger)
	if err := commands.RegisterBuiltins(registry, commands.Deps{
		Waves:   engine,
		Tickets: tickets,
		Version: version,
	}); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b, err := bot.New(bot.Config{
		Session:        session,
		Gateway:        gw,
		Registry:       registry,
		Waves:          engine,
		Tickets:        tickets,
		Prefix:         cfg.Bot.Prefix,
		OwnerID:        cfg.Bot.OwnerID,
		AllowedRoleIDs: cfg.Bot.AllowedRoleIDs,
		Logger:         logger,
		Audit:          auditLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize bot: %w", err)
	}

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Wave.SweepSchedule, func() {
		if removed := engine.Sweep(); removed > 0 {
			slog.Debug("swept expired wave sessions", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	sweeper.Start()

	slog.Info("GuildOps started", "bot_user_id", me.ID)

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	// Create a timeout context for graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sweepCtx := sweeper.Stop()
	select {
	case <-sweepCtx.Done():
	case <-shutdownCtx.Done():
	}

	if err := b.Stop(shutdownCtx); err != nil {
		slog.Error("bot shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}

	if err := auditLogger.Close(); err != nil {
		slog.Error("audit logger shutdown failed", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
