package ports

import (
	"context"
	"time"

	"ForumWatcher/internal/domain"
)

// FeedSource pulls fresh posts from the upstream RSS feed.
type FeedSource interface {
	Poll(ctx context.Context) ([]domain.Post, error)
}

// FullTextFetcher retrieves the complete post content from its source page
// and classifies the attempt. The returned outcome is always meaningful,
// even when err is non-nil.
type FullTextFetcher interface {
	Fetch(ctx context.Context, url string) (text string, outcome domain.FetchOutcome, err error)
}

// Summarizer generates digests of post content via an external model.
type Summarizer interface {
	Summarize(ctx context.Context, title, url, text string) (domain.Summary, error)
}

// Notifier delivers qualifying posts to the target channel and raises
// operator alerts on the admin channel.
type Notifier interface {
	Deliver(ctx context.Context, post domain.Post) error
	Alert(ctx context.Context, text string) error
}

// PostLedger persists posts and push records for deduplication and history.
type PostLedger interface {
	UpsertFromFeed(ctx context.Context, post domain.Post) (isNew bool, err error)
	Get(ctx context.Context, id string) (domain.Post, error)
	NextPending(ctx context.Context) (domain.Post, bool, error)
	SetStatus(ctx context.Context, id string, status domain.Status) error
	SaveContent(ctx context.Context, id, text string) error
	SaveScore(ctx context.Context, id string, score domain.ScoreResult) error
	SaveSummary(ctx context.Context, id string, summary domain.Summary) error

	IsPushed(ctx context.Context, id string) (bool, error)
	RecordPush(ctx context.Context, id string, at time.Time) error
	ClearPush(ctx context.Context, id string) error

	Recent(ctx context.Context, n int) ([]domain.Post, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)

	GetConf(ctx context.Context, key string) (string, error)
	SetConf(ctx context.Context, key, value string) error
}

// MetricsSink receives counters and gauges from the pipeline. Write-only.
type MetricsSink interface {
	RSSPoll(discovered int)
	PostProcessed()
	FetchOutcome(outcome domain.FetchOutcome)
	FetchDenied(reason string)
	PostPushed()
	PostRejected()
	SummarizerFailure()
	SetConsecutiveFailures(kind string, n int)
	SetPaused(paused bool)
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Schedule(spec string, job func()) error
	Start()
	Stop(ctx context.Context) error
}
