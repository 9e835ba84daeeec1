package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "FORUM_WATCHER_CONFIG"
	databasePathEnv = "DATABASE_PATH"
	botTokenEnv     = "TELEGRAM_BOT_TOKEN"
	channelIDEnv    = "TELEGRAM_CHANNEL_ID"
	adminChatIDEnv  = "TELEGRAM_ADMIN_CHAT_ID"
	aiAPIKeyEnv     = "AI_API_KEY"
	forumCookieEnv  = "FORUM_COOKIE"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Feed          FeedConfig         `yaml:"feed"`
	Fetch         FetchConfig        `yaml:"fetch"`
	Rules         RulesConfig        `yaml:"rules"`
	AI            AIConfig           `yaml:"ai"`
	Notifications NotificationConfig `yaml:"notifications"`
	Alerts        AlertConfig        `yaml:"alerts"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Retention     RetentionConfig    `yaml:"retention"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes the SQLite ledger location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FeedConfig defines the RSS source and polling cadence.
type FeedConfig struct {
	URL string `yaml:"url"`
	// PollSpec and ProcessSpec are cron specs, "@every 60s" style.
	PollSpec    string `yaml:"pollSpec"`
	ProcessSpec string `yaml:"processSpec"`
	// PauseStopsIngestion makes /pause stop RSS polling too, not just
	// full-text fetching and processing.
	PauseStopsIngestion bool `yaml:"pauseStopsIngestion"`
}

// FetchConfig governs full-text fetching pace and failure policy.
type FetchConfig struct {
	Cookie              string  `yaml:"cookie"`
	UserAgent           string  `yaml:"userAgent"`
	MinIntervalSeconds  int     `yaml:"minIntervalSeconds"`
	JitterSeconds       int     `yaml:"jitterSeconds"`
	TimeoutSeconds      int     `yaml:"timeoutSeconds"`
	BackoffBaseSeconds  int     `yaml:"backoffBaseSeconds"`
	BackoffCapSeconds   int     `yaml:"backoffCapSeconds"`
	LoginBackoffSeconds int     `yaml:"loginBackoffSeconds"`
	Policy              string  `yaml:"policy"` // never | always | near_threshold
	NearThresholdDelta  float64 `yaml:"nearThresholdDelta"`
}

// MinInterval resolves the minimum delay between full-text fetches.
func (f FetchConfig) MinInterval() time.Duration {
	return time.Duration(f.MinIntervalSeconds) * time.Second
}

// RulesConfig points to the base and override rule files.
type RulesConfig struct {
	BasePath     string `yaml:"basePath"`
	OverridePath string `yaml:"overridePath"`
}

// AIConfig defines how to contact the summarization API.
type AIConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"apiKey"`
	SystemPrompt   string `yaml:"systemPrompt"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	// Required makes summarizer failure block delivery instead of
	// degrading to a push without an AI summary.
	Required bool `yaml:"required"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig carries all data required to push posts and serve commands.
type TelegramConfig struct {
	BotToken    string `yaml:"botToken"`
	ChannelID   string `yaml:"channelId"`
	AdminChatID string `yaml:"adminChatId"`
	AdminUserID int64  `yaml:"adminUserId"`
}

// AlertConfig sets consecutive-failure thresholds for operator alerts.
type AlertConfig struct {
	FetchFailures      int `yaml:"fetchFailures"`
	SummarizerFailures int `yaml:"summarizerFailures"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RetentionConfig bounds how long processed posts are kept.
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(botTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(channelIDEnv); v != "" {
		c.Notifications.Telegram.ChannelID = v
	}
	if v := os.Getenv(adminChatIDEnv); v != "" {
		c.Notifications.Telegram.AdminChatID = v
	}
	if v := os.Getenv(aiAPIKeyEnv); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv(forumCookieEnv); v != "" {
		c.Fetch.Cookie = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}
	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Feed.URL != "" {
		base.Feed.URL = override.Feed.URL
	}
	if override.Feed.PollSpec != "" {
		base.Feed.PollSpec = override.Feed.PollSpec
	}
	if override.Feed.ProcessSpec != "" {
		base.Feed.ProcessSpec = override.Feed.ProcessSpec
	}
	if override.Feed.PauseStopsIngestion {
		base.Feed.PauseStopsIngestion = true
	}

	if override.Fetch.Cookie != "" {
		base.Fetch.Cookie = override.Fetch.Cookie
	}
	if override.Fetch.UserAgent != "" {
		base.Fetch.UserAgent = override.Fetch.UserAgent
	}
	if override.Fetch.MinIntervalSeconds > 0 {
		base.Fetch.MinIntervalSeconds = override.Fetch.MinIntervalSeconds
	}
	if override.Fetch.JitterSeconds > 0 {
		base.Fetch.JitterSeconds = override.Fetch.JitterSeconds
	}
	if override.Fetch.TimeoutSeconds > 0 {
		base.Fetch.TimeoutSeconds = override.Fetch.TimeoutSeconds
	}
	if override.Fetch.BackoffBaseSeconds > 0 {
		base.Fetch.BackoffBaseSeconds = override.Fetch.BackoffBaseSeconds
	}
	if override.Fetch.BackoffCapSeconds > 0 {
		base.Fetch.BackoffCapSeconds = override.Fetch.BackoffCapSeconds
	}
	if override.Fetch.LoginBackoffSeconds > 0 {
		base.Fetch.LoginBackoffSeconds = override.Fetch.LoginBackoffSeconds
	}
	if override.Fetch.Policy != "" {
		base.Fetch.Policy = override.Fetch.Policy
	}
	if override.Fetch.NearThresholdDelta > 0 {
		base.Fetch.NearThresholdDelta = override.Fetch.NearThresholdDelta
	}

	if override.Rules.BasePath != "" {
		base.Rules.BasePath = override.Rules.BasePath
	}
	if override.Rules.OverridePath != "" {
		base.Rules.OverridePath = override.Rules.OverridePath
	}

	if override.AI.Endpoint != "" {
		base.AI.Endpoint = override.AI.Endpoint
	}
	if override.AI.Model != "" {
		base.AI.Model = override.AI.Model
	}
	if override.AI.APIKey != "" {
		base.AI.APIKey = override.AI.APIKey
	}
	if override.AI.SystemPrompt != "" {
		base.AI.SystemPrompt = override.AI.SystemPrompt
	}
	if override.AI.TimeoutSeconds > 0 {
		base.AI.TimeoutSeconds = override.AI.TimeoutSeconds
	}
	if override.AI.Required {
		base.AI.Required = true
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChannelID != "" {
		base.Notifications.Telegram.ChannelID = override.Notifications.Telegram.ChannelID
	}
	if override.Notifications.Telegram.AdminChatID != "" {
		base.Notifications.Telegram.AdminChatID = override.Notifications.Telegram.AdminChatID
	}
	if override.Notifications.Telegram.AdminUserID != 0 {
		base.Notifications.Telegram.AdminUserID = override.Notifications.Telegram.AdminUserID
	}

	if override.Alerts.FetchFailures > 0 {
		base.Alerts.FetchFailures = override.Alerts.FetchFailures
	}
	if override.Alerts.SummarizerFailures > 0 {
		base.Alerts.SummarizerFailures = override.Alerts.SummarizerFailures
	}

	if override.Metrics.Addr != "" {
		base.Metrics = override.Metrics
	}
	if override.Retention.Days > 0 {
		base.Retention = override.Retention
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Path: "forumwatcher.db"},
		Feed: FeedConfig{
			URL:         "https://rss.nodeseek.com",
			PollSpec:    "@every 60s",
			ProcessSpec: "@every 10s",
		},
		Fetch: FetchConfig{
			UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) ForumWatcher/1.0",
			MinIntervalSeconds:  300,
			JitterSeconds:       20,
			TimeoutSeconds:      15,
			BackoffBaseSeconds:  60,
			BackoffCapSeconds:   3600,
			LoginBackoffSeconds: 21600,
			Policy:              "near_threshold",
			NearThresholdDelta:  6,
		},
		Rules: RulesConfig{
			BasePath:     "rules.yaml",
			OverridePath: "rules.overrides.yaml",
		},
		AI: AIConfig{
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
			SystemPrompt:   "You summarize forum posts into a short digest with key points.",
			TimeoutSeconds: 30,
		},
		Alerts: AlertConfig{
			FetchFailures:      5,
			SummarizerFailures: 5,
		},
		Retention: RetentionConfig{Days: 30},
	}
}
