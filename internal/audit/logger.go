package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes structured audit events with buffered async output.
//
// Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//	    Enabled: true,
//	    Level:   audit.LevelInfo,
//	    Format:  audit.FormatJSON,
//	    Output:  "stdout",
//	})
//	defer logger.Close()
//
//	logger.LogWaveCompleted(ctx, guildID, actorID, "demote", result)
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	eventTypes map[EventType]bool
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	default:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}

	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes an audit event to the log.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}

	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Non-blocking write to buffer
	select {
	case l.buffer <- event:
	default:
		// Buffer full, log directly (slower but doesn't drop)
		l.writeEvent(event)
	}
}

// LogWaveStaged records a staged wave session.
func (l *Logger) LogWaveStaged(ctx context.Context, guildID, actorID string, targets int) {
	l.Log(ctx, &Event{
		Type:    EventWaveStaged,
		Level:   LevelInfo,
		GuildID: guildID,
		ActorID: actorID,
		Action:  "wave_staged",
		Details: map[string]any{"targets": targets},
	})
}

// LogWaveStarted records the start of a wave run.
func (l *Logger) LogWaveStarted(ctx context.Context, guildID, actorID, kind string, targets int) {
	l.Log(ctx, &Event{
		Type:    EventWaveStarted,
		Level:   LevelInfo,
		GuildID: guildID,
		ActorID: actorID,
		Action:  "wave_started",
		Details: map[string]any{"kind": kind, "targets": targets},
	})
}

// LogWaveCompleted records a finished wave run with per-outcome counts.
func (l *Logger) LogWaveCompleted(ctx context.Context, guildID, actorID, kind string, succeeded, notFound, failed int, duration time.Duration) {
	l.Log(ctx, &Event{
		Type:    EventWaveCompleted,
		Level:   LevelInfo,
		GuildID: guildID,
		ActorID: actorID,
		Action:  "wave_completed",
		Details: map[string]any{
			"kind":      kind,
			"succeeded": succeeded,
			"not_found": notFound,
			"failed":    failed,
		},
		Duration: duration,
	})
}

// LogWaveExpired records a staged session dropped by the TTL sweep.
func (l *Logger) LogWaveExpired(ctx context.Context, guildID, actorID string) {
	l.Log(ctx, &Event{
		Type:    EventWaveExpired,
		Level:   LevelDebug,
		GuildID: guildID,
		ActorID: actorID,
		Action:  "wave_session_expired",
	})
}

// LogTicket records a ticket lifecycle transition.
func (l *Logger) LogTicket(ctx context.Context, eventType EventType, guildID, actorID, channelID string, ticketNumber int64, details map[string]any) {
	if details == nil {
		details = make(map[string]any)
	}
	details["ticket_number"] = ticketNumber

	l.Log(ctx, &Event{
		Type:      eventType,
		Level:     LevelInfo,
		GuildID:   guildID,
		ActorID:   actorID,
		ChannelID: channelID,
		Action:    strings.ReplaceAll(string(eventType), ".", "_"),
		Details:   details,
	})
}

// LogPermissionDenied records a rejected staff-only command.
func (l *Logger) LogPermissionDenied(ctx context.Context, guildID, actorID, command string) {
	l.Log(ctx, &Event{
		Type:    EventPermissionDenied,
		Level:   LevelWarn,
		GuildID: guildID,
		ActorID: actorID,
		Action:  "permission_denied",
		Details: map[string]any{"command": command},
	})
}

// LogError logs an error event.
func (l *Logger) LogError(ctx context.Context, eventType EventType, action, errorMsg string, details map[string]any) {
	l.Log(ctx, &Event{
		Type:    eventType,
		Level:   LevelError,
		Action:  action,
		Error:   errorMsg,
		Details: details,
	})
}

// writeLoop processes buffered events.
func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

// flushBuffer drains all buffered events.
func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

// writeEvent writes a single event to the output.
func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.GuildID != "" {
		attrs = append(attrs, "guild_id", event.GuildID)
	}
	if event.ActorID != "" {
		attrs = append(attrs, "actor_id", event.ActorID)
	}
	if event.ChannelID != "" {
		attrs = append(attrs, "channel_id", event.ChannelID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}

	// Add details as individual attributes for better querying
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelInfo:
		l.slogger.Info("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	}
}

// shouldLog checks if an event at the given level should be logged.
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.config.Level]
}

// slogLevel converts audit level to slog level.
func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
