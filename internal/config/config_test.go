package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/oops"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  dry_run: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 5334 || cfg.Database.Type != "sqlite" || cfg.Database.Path != "data/postpilot.db" {
		t.Errorf("server/database defaults = %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Publisher.MaxAttempts != 3 || cfg.Publisher.RetryDelay != 5*time.Second {
		t.Errorf("publisher defaults = %+v", cfg.Publisher)
	}
	if cfg.Publisher.MinDelay != 30*time.Second || cfg.Publisher.MaxDelay != 120*time.Second {
		t.Errorf("delay defaults = %+v", cfg.Publisher)
	}
	if cfg.Telegram.SendTimeout != 30*time.Second {
		t.Errorf("send timeout = %s", cfg.Telegram.SendTimeout)
	}
	if !cfg.Scheduler.AutoStart() {
		t.Error("scheduler should autostart by default")
	}
}

func TestLoadConfigEnvAndDurations(t *testing.T) {
	t.Setenv("POSTPILOT_TEST_TOKEN", "123:abc")
	path := writeConfig(t, `
telegram:
  bot_token: ${POSTPILOT_TEST_TOKEN}
publisher:
  retry_delay: 2s
  min_delay: 1m
  max_delay: 3m
scheduler:
  enabled: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("bot token = %q", cfg.Telegram.BotToken)
	}
	if cfg.Publisher.RetryDelay != 2*time.Second || cfg.Publisher.MinDelay != time.Minute || cfg.Publisher.MaxDelay != 3*time.Minute {
		t.Errorf("publisher = %+v", cfg.Publisher)
	}
	if cfg.Scheduler.AutoStart() {
		t.Error("scheduler.enabled=false ignored")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.DryRun = false; c.Telegram.BotToken = "" }},
		{"bad database", func(c *Config) { c.Database.Type = "mysql" }},
		{"zero attempts", func(c *Config) { c.Publisher.MaxAttempts = -1 }},
		{"delay order", func(c *Config) { c.Publisher.MinDelay = time.Hour }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"auth without secrets", func(c *Config) { c.Auth.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Telegram: TelegramConfig{DryRun: true}}
			cfg.SetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			oopsErr, ok := oops.AsOops(err)
			if !ok || fmt.Sprint(oopsErr.Code()) != "configuration" {
				t.Errorf("error %v is not a configuration error", err)
			}
		})
	}
}
