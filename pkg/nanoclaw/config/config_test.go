package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseOverlaysDefaults(t *testing.T) {
	yaml := `
name: Andy
channels:
  whatsapp:
    enabled: true
    database_path: /tmp/wa.db
  discord:
    enabled: true
agent:
  image: nanoclaw-agent:dev
logging:
  format: json
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Name != "Andy" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Channels.WhatsApp.DatabasePath != "/tmp/wa.db" {
		t.Errorf("whatsapp db = %q", cfg.Channels.WhatsApp.DatabasePath)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("format = %q", cfg.Logging.Format)
	}
	if cfg.Agent.Image != "nanoclaw-agent:dev" {
		t.Errorf("agent image = %q", cfg.Agent.Image)
	}

	// Untouched fields keep their defaults.
	if cfg.Trigger != "@nanoclaw" {
		t.Errorf("default trigger lost: %q", cfg.Trigger)
	}
	if cfg.Database.Path != "data/nanoclaw.db" {
		t.Errorf("default db path lost: %q", cfg.Database.Path)
	}
	if cfg.Watchdog.HostPattern != "nanoclaw serve" {
		t.Errorf("default watchdog pattern lost: %q", cfg.Watchdog.HostPattern)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("NANOCLAW_TEST_NAME", "FromEnv")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "name: ${NANOCLAW_TEST_NAME}\ntrigger: $NANOCLAW_UNSET_VAR\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "FromEnv" {
		t.Errorf("name = %q, want expanded env value", cfg.Name)
	}
	if cfg.Trigger != "$NANOCLAW_UNSET_VAR" {
		t.Errorf("unset var placeholder rewritten: %q", cfg.Trigger)
	}
}

func TestDiscordTokenEnvWins(t *testing.T) {
	t.Setenv("NANOCLAW_DISCORD_TOKEN", "env-token")

	if got := ResolveDiscordToken("config-token"); got != "env-token" {
		t.Errorf("token = %q, env must win", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Name = "Roundtrip"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != "Roundtrip" {
		t.Errorf("name = %q", loaded.Name)
	}
}
