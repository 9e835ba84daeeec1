package governor

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"ForumWatcher/internal/domain"
)

// Mode tells whether full-text fetching is still available for this process.
type Mode string

const (
	// ModeFull allows full-text fetching subject to pacing and backoff.
	ModeFull Mode = "full"
	// ModeRSSOnly is entered when the site flags us as a bot. It is
	// terminal: only a process restart (with presumably fixed
	// credentials) returns to ModeFull.
	ModeRSSOnly Mode = "rss_only"
)

// DenyReason explains why a fetch slot was not granted.
type DenyReason string

const (
	DenyPaused      DenyReason = "paused"
	DenyRSSOnly     DenyReason = "rss_only"
	DenyRateLimited DenyReason = "rate_limited"
	DenyBackoff     DenyReason = "backoff"
)

// Denial carries the deny reason and, when pacing or backoff caused it, the
// earliest time a slot may be granted again.
type Denial struct {
	Reason  DenyReason
	RetryAt time.Time
}

// Status is a side-effect-free snapshot for the /status command.
type Status struct {
	Mode                Mode
	Paused              bool
	NextAllowedAt       time.Time
	ConsecutiveFailures int
	InFlight            bool
}

// Snapshot is the durable part of the governor state. Mode is deliberately
// excluded: a restart re-initializes to full-text mode.
type Snapshot struct {
	Paused              bool      `json:"paused"`
	LastFetchAt         time.Time `json:"last_fetch_at"`
	NextAllowedAt       time.Time `json:"next_allowed_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BackoffUntil        time.Time `json:"backoff_until"`
}

// Config tunes pacing and backoff.
type Config struct {
	MinInterval  time.Duration
	Jitter       time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	LoginBackoff time.Duration
}

// Governor is the process-wide gate for full-text fetch attempts. At most
// one fetch is in flight at any instant; every granted slot must be closed
// by ReportOutcome before another can be granted.
type Governor struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	mode          Mode
	paused        bool
	inFlight      bool
	lastFetchAt   time.Time
	nextAllowedAt time.Time
	failures      int
	backoffUntil  time.Time

	onAntiBot func()
	logger    *slog.Logger
}

// New builds a governor in full-text mode.
func New(cfg Config, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	return &Governor{
		cfg:    cfg,
		now:    time.Now,
		mode:   ModeFull,
		logger: logger,
	}
}

// SetClock replaces the time source. Tests only.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// OnAntiBot registers the operator-alert side effect fired when the mode
// switches to rss_only. The callback runs outside the governor lock.
func (g *Governor) OnAntiBot(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAntiBot = fn
}

// TryAcquire attempts to take the single process-wide fetch slot. When
// granted, the caller must report the attempt outcome via ReportOutcome.
func (g *Governor) TryAcquire() (bool, Denial) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	switch {
	case g.paused:
		return false, Denial{Reason: DenyPaused}
	case g.mode == ModeRSSOnly:
		return false, Denial{Reason: DenyRSSOnly}
	case g.inFlight:
		return false, Denial{Reason: DenyRateLimited}
	case now.Before(g.backoffUntil):
		return false, Denial{Reason: DenyBackoff, RetryAt: g.backoffUntil}
	case now.Before(g.nextAllowedAt):
		return false, Denial{Reason: DenyRateLimited, RetryAt: g.nextAllowedAt}
	}

	g.inFlight = true
	return true, Denial{}
}

// ReportOutcome closes the in-flight slot and applies the failure policy.
// Safe to call without a granted slot (it then only updates counters), so
// transports can report outcomes unconditionally.
func (g *Governor) ReportOutcome(outcome domain.FetchOutcome) {
	g.mu.Lock()

	now := g.now()
	g.inFlight = false

	var fireAlert func()

	switch outcome {
	case domain.FetchSuccess:
		g.lastFetchAt = now
		g.nextAllowedAt = now.Add(g.cfg.MinInterval + g.jitterLocked())
		g.failures = 0
		g.backoffUntil = time.Time{}
	case domain.FetchTransient:
		g.failures++
		g.backoffUntil = now.Add(g.backoffLocked())
	case domain.FetchLoginRequired:
		g.failures++
		g.backoffUntil = now.Add(g.cfg.LoginBackoff)
	case domain.FetchAntiBot:
		if g.mode != ModeRSSOnly {
			g.mode = ModeRSSOnly
			fireAlert = g.onAntiBot
			g.logger.Error("anti-bot response detected, switching to rss-only mode for the rest of this run")
		}
	}

	g.mu.Unlock()

	if fireAlert != nil {
		fireAlert()
	}
}

func (g *Governor) jitterLocked() time.Duration {
	if g.cfg.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(g.cfg.Jitter)))
}

func (g *Governor) backoffLocked() time.Duration {
	d := g.cfg.BackoffBase
	for i := 1; i < g.failures; i++ {
		d *= 2
		if d >= g.cfg.BackoffCap {
			return g.cfg.BackoffCap
		}
	}
	if d > g.cfg.BackoffCap {
		d = g.cfg.BackoffCap
	}
	return d
}

// Pause denies all fetch slots until Resume. Orthogonal to Mode. An
// in-flight fetch completes and reports its outcome normally.
func (g *Governor) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
}

// Resume lifts a pause.
func (g *Governor) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
}

// Paused reports the operator pause flag.
func (g *Governor) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Status returns a snapshot without side effects. Safe to call concurrently
// with fetch operations.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.nextAllowedAt
	if g.backoffUntil.After(next) {
		next = g.backoffUntil
	}

	return Status{
		Mode:                g.mode,
		Paused:              g.paused,
		NextAllowedAt:       next,
		ConsecutiveFailures: g.failures,
		InFlight:            g.inFlight,
	}
}

// Snapshot exports the durable state, excluding Mode.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Paused:              g.paused,
		LastFetchAt:         g.lastFetchAt,
		NextAllowedAt:       g.nextAllowedAt,
		ConsecutiveFailures: g.failures,
		BackoffUntil:        g.backoffUntil,
	}
}

// Restore applies a persisted snapshot. Mode stays full: the restart is
// assumed to mean the operator fixed whatever tripped anti-bot detection.
func (g *Governor) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = s.Paused
	g.lastFetchAt = s.LastFetchAt
	g.nextAllowedAt = s.NextAllowedAt
	g.failures = s.ConsecutiveFailures
	g.backoffUntil = s.BackoffUntil
}
