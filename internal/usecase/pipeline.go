package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/governor"
	"ForumWatcher/internal/ports"
	"ForumWatcher/internal/rules"
)

const govStateConfKey = "fetch_state"

// Policy carries the tunable decisions of the scoring pipeline.
type Policy struct {
	// FulltextPolicy is never, always, or near_threshold.
	FulltextPolicy string
	// NearThresholdDelta widens the band below the threshold in which a
	// full-text fetch is considered worth its cost.
	NearThresholdDelta float64
	// HasCredential reports whether a forum session cookie is configured.
	// Without one, full-text fetching is denied, not errored.
	HasCredential bool
	// SummarizerRequired blocks delivery on summarizer failure instead of
	// pushing without an AI summary.
	SummarizerRequired bool
	// PauseStopsIngestion extends /pause to RSS polling.
	PauseStopsIngestion bool

	AlertFetchFailures      int
	AlertSummarizerFailures int
	RetentionDays           int
}

// PipelineDeps wires all collaborators into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.FeedSource
	Ledger     ports.PostLedger
	Rules      *rules.Store
	Governor   *governor.Governor
	Fetcher    ports.FullTextFetcher
	Summarizer ports.Summarizer
	Notifier   ports.Notifier
	Metrics    ports.MetricsSink
	Logger     *slog.Logger
	Policy     Policy
	Now        func() time.Time
}

// Pipeline decides, for each post, whether and how it is pushed.
type Pipeline struct {
	source     ports.FeedSource
	ledger     ports.PostLedger
	rules      *rules.Store
	governor   *governor.Governor
	fetcher    ports.FullTextFetcher
	summarizer ports.Summarizer
	notifier   ports.Notifier
	metrics    ports.MetricsSink
	logger     *slog.Logger
	policy     Policy
	now        func() time.Time

	// processMu serializes Process so the dedup check and the push record
	// are atomic per post; overlapping ticks must never deliver twice.
	processMu sync.Mutex

	mu                   sync.Mutex
	summarizerFailStreak int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		source:     deps.Source,
		ledger:     deps.Ledger,
		rules:      deps.Rules,
		governor:   deps.Governor,
		fetcher:    deps.Fetcher,
		summarizer: deps.Summarizer,
		notifier:   deps.Notifier,
		metrics:    metrics,
		logger:     logger,
		policy:     deps.Policy,
		now:        now,
	}
}

// PollOnce ingests the feed into the ledger. Pausing stops ingestion only
// when configured to; by default RSS discovery continues while paused.
func (p *Pipeline) PollOnce(ctx context.Context) error {
	if p.policy.PauseStopsIngestion && p.governor.Paused() {
		p.logger.Debug("ingestion paused")
		return nil
	}

	posts, err := p.source.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll feed: %w", err)
	}

	discovered := 0
	for _, post := range posts {
		isNew, err := p.ledger.UpsertFromFeed(ctx, post)
		if err != nil {
			return fmt.Errorf("upsert post %s: %w", post.ID, err)
		}
		if isNew {
			discovered++
		}
	}

	p.metrics.RSSPoll(discovered)
	p.logger.Info("rss poll", "items", len(posts), "new", discovered)
	return nil
}

// ProcessNext runs the scoring pipeline for the oldest unprocessed post.
func (p *Pipeline) ProcessNext(ctx context.Context) error {
	if p.governor.Paused() {
		return nil
	}

	post, ok, err := p.ledger.NextPending(ctx)
	if err != nil {
		return fmt.Errorf("next pending: %w", err)
	}
	if !ok {
		return nil
	}
	return p.Process(ctx, post, false)
}

// Process runs the per-post decision. With force set (reprocessing), the
// dedup check is skipped.
func (p *Pipeline) Process(ctx context.Context, post domain.Post, force bool) error {
	p.processMu.Lock()
	defer p.processMu.Unlock()

	if !force {
		pushed, err := p.ledger.IsPushed(ctx, post.ID)
		if err != nil {
			return fmt.Errorf("dedup check %s: %w", post.ID, err)
		}
		if pushed {
			p.logger.Debug("already pushed, skipping", "post", post.ID)
			return nil
		}
	}

	rule := p.rules.Effective()

	if p.shouldAttemptFulltext(rule, post) {
		p.attemptFulltext(ctx, &post)
	}

	score := rule.Score(post.Title, post.BestText(), post.FullText == "")
	post.Score = score.Total
	post.Decision = score.Decision
	if err := p.ledger.SaveScore(ctx, post.ID, score); err != nil {
		return fmt.Errorf("save score %s: %w", post.ID, err)
	}
	p.metrics.PostProcessed()

	switch score.Decision {
	case domain.DecisionReject:
		p.metrics.PostRejected()
		p.logger.Info("post rejected", "post", post.ID, "reasons", score.Reasons)
		return p.ledger.SetStatus(ctx, post.ID, domain.StatusReject)
	case domain.DecisionIgnore:
		p.logger.Debug("post below threshold", "post", post.ID, "score", score.Total)
		return p.ledger.SetStatus(ctx, post.ID, domain.StatusSkipped)
	}

	if err := p.summarize(ctx, &post); err != nil {
		if setErr := p.ledger.SetStatus(ctx, post.ID, domain.StatusFailed); setErr != nil {
			p.logger.Warn("failed to mark post failed", "post", post.ID, "error", setErr)
		}
		return err
	}

	if err := p.notifier.Deliver(ctx, post); err != nil {
		// Not marked pushed: a later /reprocess can attempt delivery again.
		if setErr := p.ledger.SetStatus(ctx, post.ID, domain.StatusScored); setErr != nil {
			p.logger.Warn("failed to mark post scored", "post", post.ID, "error", setErr)
		}
		return fmt.Errorf("deliver %s: %w", post.ID, err)
	}

	if err := p.ledger.RecordPush(ctx, post.ID, p.now()); err != nil {
		return fmt.Errorf("record push %s: %w", post.ID, err)
	}
	p.metrics.PostPushed()
	p.logger.Info("post pushed", "post", post.ID, "score", score.Total)
	return nil
}

// Reprocess clears the push marker and re-runs scoring for a post,
// potentially re-delivering it.
func (p *Pipeline) Reprocess(ctx context.Context, id string) error {
	if err := p.ledger.ClearPush(ctx, id); err != nil {
		return fmt.Errorf("clear push %s: %w", id, err)
	}
	post, err := p.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	return p.Process(ctx, post, true)
}

// CleanupOnce prunes posts past the retention window.
func (p *Pipeline) CleanupOnce(ctx context.Context) error {
	if p.policy.RetentionDays <= 0 {
		return nil
	}
	cutoff := p.now().AddDate(0, 0, -p.policy.RetentionDays)
	n, err := p.ledger.Cleanup(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if n > 0 {
		p.logger.Info("retention cleanup", "deleted", n)
	}
	return nil
}

// shouldAttemptFulltext decides if the post's full text is worth fetching
// before the governor is even consulted.
func (p *Pipeline) shouldAttemptFulltext(rule rules.Rule, post domain.Post) bool {
	switch p.policy.FulltextPolicy {
	case "never":
		return false
	case "always":
		// Capability check still applies below.
	default:
		// near_threshold: quick score on RSS-only text.
		quick := rule.Score(post.Title, post.RawSummary, true)
		if quick.Decision == domain.DecisionReject {
			return false
		}
		if quick.Total < rule.Threshold-p.policy.NearThresholdDelta {
			return false
		}
	}

	if !p.policy.HasCredential {
		p.metrics.FetchDenied("no_credential")
		p.logger.Debug("fetch denied", "post", post.ID, "reason", "no_credential")
		return false
	}
	return true
}

func (p *Pipeline) attemptFulltext(ctx context.Context, post *domain.Post) {
	granted, denial := p.governor.TryAcquire()
	if !granted {
		p.metrics.FetchDenied(string(denial.Reason))
		p.logger.Debug("fetch denied",
			"post", post.ID,
			"reason", denial.Reason,
			"retry_at", denial.RetryAt,
		)
		return
	}

	text, outcome, err := p.fetcher.Fetch(ctx, post.URL)
	p.governor.ReportOutcome(outcome)
	p.metrics.FetchOutcome(outcome)
	if err := p.SaveGovernorSnapshot(ctx); err != nil {
		p.logger.Warn("failed to persist fetch state", "error", err)
	}

	status := p.governor.Status()
	p.metrics.SetConsecutiveFailures("fetch", status.ConsecutiveFailures)

	if outcome == domain.FetchSuccess {
		post.FullText = text
		if err := p.ledger.SaveContent(ctx, post.ID, text); err != nil {
			p.logger.Warn("failed to save content", "post", post.ID, "error", err)
		}
		return
	}

	p.logger.Warn("full-text fetch failed",
		"post", post.ID,
		"outcome", outcome.String(),
		"error", err,
	)
	p.maybeAlertFetchFailures(ctx, status.ConsecutiveFailures)
}

func (p *Pipeline) maybeAlertFetchFailures(ctx context.Context, streak int) {
	// Alert once per streak, when it first reaches the threshold.
	if threshold := p.policy.AlertFetchFailures; threshold <= 0 || streak != threshold {
		return
	}

	msg := fmt.Sprintf("full-text fetch failed %d times in a row", streak)
	if err := p.notifier.Alert(ctx, msg); err != nil {
		p.logger.Warn("failed to send fetch alert", "error", err)
	}
}

func (p *Pipeline) summarize(ctx context.Context, post *domain.Post) error {
	summary, err := p.summarizer.Summarize(ctx, post.Title, post.URL, post.BestText())
	if err != nil {
		p.metrics.SummarizerFailure()

		p.mu.Lock()
		p.summarizerFailStreak++
		streak := p.summarizerFailStreak
		p.mu.Unlock()
		p.metrics.SetConsecutiveFailures("summarizer", streak)

		if threshold := p.policy.AlertSummarizerFailures; threshold > 0 && streak == threshold {
			msg := fmt.Sprintf("summarizer failed %d times in a row", streak)
			if alertErr := p.notifier.Alert(ctx, msg); alertErr != nil {
				p.logger.Warn("failed to send summarizer alert", "error", alertErr)
			}
		}

		if p.policy.SummarizerRequired {
			return fmt.Errorf("summarize %s: %w", post.ID, err)
		}
		p.logger.Warn("summarizer failed, pushing without summary", "post", post.ID, "error", err)
		return nil
	}

	p.mu.Lock()
	p.summarizerFailStreak = 0
	p.mu.Unlock()
	p.metrics.SetConsecutiveFailures("summarizer", 0)

	post.AISummary = summary.Render()
	if err := p.ledger.SaveSummary(ctx, post.ID, summary); err != nil {
		p.logger.Warn("failed to save summary", "post", post.ID, "error", err)
	}
	return nil
}

// SaveGovernorSnapshot persists the durable part of the fetch state.
func (p *Pipeline) SaveGovernorSnapshot(ctx context.Context) error {
	raw, err := json.Marshal(p.governor.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal fetch state: %w", err)
	}
	return p.ledger.SetConf(ctx, govStateConfKey, string(raw))
}

// RestoreGovernorSnapshot loads the persisted fetch state, if any. Mode is
// never restored: a restart always begins in full-text mode.
func (p *Pipeline) RestoreGovernorSnapshot(ctx context.Context) error {
	raw, err := p.ledger.GetConf(ctx, govStateConfKey)
	if err != nil || raw == "" {
		return err
	}

	var snap governor.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return fmt.Errorf("unmarshal fetch state: %w", err)
	}
	p.governor.Restore(snap)
	p.metrics.SetPaused(snap.Paused)
	return nil
}

// noopMetrics keeps the pipeline free of nil checks when no sink is wired.
type noopMetrics struct{}

func (noopMetrics) RSSPoll(int)                        {}
func (noopMetrics) PostProcessed()                     {}
func (noopMetrics) FetchOutcome(domain.FetchOutcome)   {}
func (noopMetrics) FetchDenied(string)                 {}
func (noopMetrics) PostPushed()                        {}
func (noopMetrics) PostRejected()                      {}
func (noopMetrics) SummarizerFailure()                 {}
func (noopMetrics) SetConsecutiveFailures(string, int) {}
func (noopMetrics) SetPaused(bool)                     {}
