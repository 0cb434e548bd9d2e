// Package config defines the NanoClaw configuration structures.
package config

import (
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/agent"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels/discord"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels/whatsapp"
	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/liveness"
)

// Config holds the full daemon configuration.
type Config struct {
	// Name is the assistant name used in prompts and logs.
	Name string `yaml:"name"`

	// Trigger is the default trigger word for newly registered groups.
	Trigger string `yaml:"trigger"`

	// Timezone is the operator timezone (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone"`

	// Database configures the main SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Channels configures the communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Agent configures the sandboxed agent runner.
	Agent agent.Config `yaml:"agent"`

	// Heartbeat configures the liveness heartbeat file.
	Heartbeat liveness.HeartbeatConfig `yaml:"heartbeat"`

	// Watchdog configures the external watchdog and reaper.
	Watchdog liveness.WatchdogConfig `yaml:"watchdog"`

	// Scheduler configures cron-driven tasks.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the main store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// WhatsApp is the WhatsApp channel config.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	// Discord is the Discord channel config.
	Discord discord.Config `yaml:"discord"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	// Enabled turns the scheduler on/off.
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "NanoClaw",
		Trigger:  "@nanoclaw",
		Timezone: "America/Sao_Paulo",
		Database: DatabaseConfig{
			Path: "data/nanoclaw.db",
		},
		Channels: ChannelsConfig{
			WhatsApp: whatsapp.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Agent:     agent.DefaultConfig(),
		Heartbeat: liveness.DefaultHeartbeatConfig(),
		Watchdog:  liveness.DefaultWatchdogConfig(),
		Scheduler: SchedulerConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
