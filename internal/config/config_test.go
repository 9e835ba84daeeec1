package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg := Load()

	if cfg.Fetch.MinIntervalSeconds != 300 {
		t.Fatalf("unexpected default fetch interval: %d", cfg.Fetch.MinIntervalSeconds)
	}
	if cfg.Fetch.Policy != "near_threshold" {
		t.Fatalf("unexpected default fetch policy: %s", cfg.Fetch.Policy)
	}
	if cfg.Feed.PollSpec == "" || cfg.Feed.ProcessSpec == "" {
		t.Fatal("default cron specs must be set")
	}
	if cfg.AI.Model == "" {
		t.Fatal("default model must be set")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
feed:
  url: https://forum.example.com/feed.xml
  pollSpec: "@every 30s"
fetch:
  minIntervalSeconds: 120
  policy: always
ai:
  required: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()

	if cfg.Feed.URL != "https://forum.example.com/feed.xml" {
		t.Fatalf("feed url not applied: %s", cfg.Feed.URL)
	}
	if cfg.Feed.PollSpec != "@every 30s" {
		t.Fatalf("poll spec not applied: %s", cfg.Feed.PollSpec)
	}
	if cfg.Fetch.MinIntervalSeconds != 120 {
		t.Fatalf("fetch interval not applied: %d", cfg.Fetch.MinIntervalSeconds)
	}
	if got := cfg.Fetch.MinInterval(); got != 2*time.Minute {
		t.Fatalf("unexpected resolved interval: %s", got)
	}
	if !cfg.AI.Required {
		t.Fatal("ai.required not applied")
	}
	// Untouched sections keep their defaults.
	if cfg.Fetch.BackoffBaseSeconds != 60 {
		t.Fatalf("unrelated default lost: %d", cfg.Fetch.BackoffBaseSeconds)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
notifications:
  telegram:
    botToken: from-file
fetch:
  cookie: cookie-from-file
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(botTokenEnv, "from-env")
	t.Setenv(forumCookieEnv, "cookie-from-env")
	t.Setenv(databasePathEnv, "/tmp/override.db")

	cfg := Load()

	if cfg.Notifications.Telegram.BotToken != "from-env" {
		t.Fatalf("env bot token should win: %s", cfg.Notifications.Telegram.BotToken)
	}
	if cfg.Fetch.Cookie != "cookie-from-env" {
		t.Fatalf("env cookie should win: %s", cfg.Fetch.Cookie)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Fatalf("env database path not applied: %s", cfg.Database.Path)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()
	if cfg.Fetch.MinIntervalSeconds != 300 {
		t.Fatalf("defaults lost on missing file: %d", cfg.Fetch.MinIntervalSeconds)
	}
}
