// Package config loads the bot's YAML configuration with environment
// variable expansion, defaults, and validation.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Bot     BotConfig     `yaml:"bot"`
	Wave    WaveConfig    `yaml:"wave"`
	Tickets TicketsConfig `yaml:"tickets"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
}

// BotConfig configures the Discord connection and command gating.
type BotConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token"`

	// Prefix is the text command prefix.
	Prefix string `yaml:"prefix"`

	// OwnerID always passes every permission check.
	OwnerID string `yaml:"owner_id"`

	// AllowedRoleIDs grant access to admin commands alongside guild
	// administrators.
	AllowedRoleIDs []string `yaml:"allowed_role_ids"`
}

// WaveConfig configures the wave session engine.
type WaveConfig struct {
	// SessionTTL is how long a staged session stays valid.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// StepDelay is the pause between wave targets.
	StepDelay time.Duration `yaml:"step_delay"`

	// LogChannelID receives wave reports; empty disables delivery.
	LogChannelID string `yaml:"log_channel_id"`

	// SweepSchedule is the cron expression for expired-session sweeps.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// TicketsConfig configures the ticket lifecycle manager.
type TicketsConfig struct {
	// StatePath is the JSON persistence file.
	StatePath string `yaml:"state_path"`

	// CloseDelay is the pause before a closed ticket channel is deleted.
	CloseDelay time.Duration `yaml:"close_delay"`

	// FallbackLogChannelID receives close reports for guilds without a
	// configured log channel.
	FallbackLogChannelID string `yaml:"fallback_log_channel_id"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig configures the audit event stream.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Level         string        `yaml:"level"`
	Format        string        `yaml:"format"`
	Output        string        `yaml:"output"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Load reads and parses the configuration file. Environment variables in the
// file body are expanded before parsing, and unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg, err := parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Prefix == "" {
		cfg.Bot.Prefix = "!"
	}
	if cfg.Wave.SessionTTL == 0 {
		cfg.Wave.SessionTTL = 10 * time.Minute
	}
	if cfg.Wave.StepDelay == 0 {
		cfg.Wave.StepDelay = 300 * time.Millisecond
	}
	if cfg.Wave.SweepSchedule == "" {
		cfg.Wave.SweepSchedule = "@every 1m"
	}
	if cfg.Tickets.StatePath == "" {
		cfg.Tickets.StatePath = "data/tickets-state.json"
	}
	if cfg.Tickets.CloseDelay == 0 {
		cfg.Tickets.CloseDelay = 5 * time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Audit.Level == "" {
		cfg.Audit.Level = "info"
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = "json"
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1000
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = 5 * time.Second
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required")
	}
	if c.Wave.SessionTTL < 0 {
		return fmt.Errorf("wave.session_ttl must not be negative")
	}
	if c.Wave.StepDelay < 0 {
		return fmt.Errorf("wave.step_delay must not be negative")
	}
	if _, err := cron.ParseStandard(c.Wave.SweepSchedule); err != nil {
		return fmt.Errorf("wave.sweep_schedule is not a valid schedule: %w", err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch c.Audit.Format {
	case "json", "text":
	default:
		return fmt.Errorf("audit.format must be json or text, got %q", c.Audit.Format)
	}
	return nil
}
