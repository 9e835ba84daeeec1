package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ForumWatcher/internal/admin"
	"ForumWatcher/internal/config"
	"ForumWatcher/internal/governor"
	"ForumWatcher/internal/infrastructure/feed"
	"ForumWatcher/internal/infrastructure/fetcher"
	"ForumWatcher/internal/infrastructure/llm"
	"ForumWatcher/internal/infrastructure/metrics"
	"ForumWatcher/internal/infrastructure/scheduler"
	"ForumWatcher/internal/infrastructure/storage"
	"ForumWatcher/internal/infrastructure/telegram"
	"ForumWatcher/internal/logging"
	"ForumWatcher/internal/ports"
	"ForumWatcher/internal/rules"
	"ForumWatcher/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	ledger   *storage.SQLiteRepository
	pipeline *usecase.Pipeline
	bot      *telegram.Bot
	// metrics is nil when no endpoint address is configured.
	metrics *metrics.Metrics
	sched   *scheduler.CronScheduler
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	ledger, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	ruleStore, err := rules.NewStore(cfg.Rules.BasePath, cfg.Rules.OverridePath,
		baseLogger.With("component", "rules"))
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}

	var sink ports.MetricsSink = metrics.Noop{}
	var prom *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		prom = metrics.New()
		sink = prom
	}

	gov := governor.New(governor.Config{
		MinInterval:  cfg.Fetch.MinInterval(),
		Jitter:       time.Duration(cfg.Fetch.JitterSeconds) * time.Second,
		BackoffBase:  time.Duration(cfg.Fetch.BackoffBaseSeconds) * time.Second,
		BackoffCap:   time.Duration(cfg.Fetch.BackoffCapSeconds) * time.Second,
		LoginBackoff: time.Duration(cfg.Fetch.LoginBackoffSeconds) * time.Second,
	}, baseLogger.With("component", "governor"))

	tg := cfg.Notifications.Telegram
	notifier := telegram.NewNotifier(tg.BotToken, tg.ChannelID, tg.AdminChatID)

	gov.OnAntiBot(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Alert(ctx, "anti-bot detection tripped; full-text fetching disabled until restart"); err != nil {
			baseLogger.Warn("failed to send anti-bot alert", "error", err)
		}
	})

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source: feed.NewPoller(cfg.Feed.URL, cfg.Fetch.UserAgent,
			baseLogger.With("component", "feed")),
		Ledger:   ledger,
		Rules:    ruleStore,
		Governor: gov,
		Fetcher: fetcher.New(cfg.Fetch.Cookie, cfg.Fetch.UserAgent,
			time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
			baseLogger.With("component", "fetcher")),
		Summarizer: llm.NewOpenAIClient(cfg.AI),
		Notifier:   notifier,
		Metrics:    sink,
		Logger:     baseLogger.With("component", "pipeline"),
		Policy: usecase.Policy{
			FulltextPolicy:          cfg.Fetch.Policy,
			NearThresholdDelta:      cfg.Fetch.NearThresholdDelta,
			HasCredential:           cfg.Fetch.Cookie != "",
			SummarizerRequired:      cfg.AI.Required,
			PauseStopsIngestion:     cfg.Feed.PauseStopsIngestion,
			AlertFetchFailures:      cfg.Alerts.FetchFailures,
			AlertSummarizerFailures: cfg.Alerts.SummarizerFailures,
			RetentionDays:           cfg.Retention.Days,
		},
	})

	surface := admin.New(gov, ruleStore, ledger, pipeline, sink,
		baseLogger.With("component", "admin"))
	bot := telegram.NewBot(tg.BotToken, tg.AdminChatID, tg.AdminUserID, surface, notifier,
		baseLogger.With("component", "bot"))

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		ledger:   ledger,
		pipeline: pipeline,
		bot:      bot,
		metrics:  prom,
		sched:    scheduler.NewCronScheduler(),
	}, nil
}

// Run starts all background jobs and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer a.ledger.Close()

	if err := a.pipeline.RestoreGovernorSnapshot(ctx); err != nil {
		a.logger.Warn("could not restore fetch state", "error", err)
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"poll", a.cfg.Feed.PollSpec, a.pipeline.PollOnce},
		{"process", a.cfg.Feed.ProcessSpec, a.pipeline.ProcessNext},
		{"cleanup", "@every 1h", a.pipeline.CleanupOnce},
	}
	for _, j := range jobs {
		if err := a.sched.Schedule(j.spec, func() {
			if err := j.run(ctx); err != nil {
				a.logger.Warn("job failed", "job", j.name, "error", err)
			}
		}); err != nil {
			return err
		}
	}

	if a.metrics != nil {
		go a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger.With("component", "metrics"))
	}
	go a.bot.Run(ctx)

	a.sched.Start()
	a.logger.Info("forumwatcher started", "feed", a.cfg.Feed.URL)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.sched.Stop(stopCtx)
}
