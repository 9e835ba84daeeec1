package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ForumWatcher/internal/governor"
	"ForumWatcher/internal/ports"
	"ForumWatcher/internal/rules"
	"ForumWatcher/internal/usecase"
)

const (
	defaultLastN = 10
	maxLastN     = 30
)

// Surface exposes privileged operator commands as thin mutators over the
// governor, the rule store, and the post ledger. The transport (command
// parsing over a private chat) lives in infrastructure.
type Surface struct {
	governor *governor.Governor
	rules    *rules.Store
	ledger   ports.PostLedger
	pipeline *usecase.Pipeline
	metrics  ports.MetricsSink
	logger   *slog.Logger
	now      func() time.Time
}

// New wires the admin surface.
func New(gov *governor.Governor, ruleStore *rules.Store, ledger ports.PostLedger, pipeline *usecase.Pipeline, metrics ports.MetricsSink, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		governor: gov,
		rules:    ruleStore,
		ledger:   ledger,
		pipeline: pipeline,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle executes one command line and returns the reply text. Errors are
// rendered into the reply; nothing here terminates the process.
func (s *Surface) Handle(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	command, args := fields[0], fields[1:]
	s.logger.Info("admin command", "command", command)

	switch command {
	case "/status":
		return s.status()
	case "/pause":
		return s.setPaused(ctx, true)
	case "/resume":
		return s.setPaused(ctx, false)
	case "/set_threshold":
		return s.setThreshold(args)
	case "/whitelist_add":
		return s.addKeyword(args, s.rules.AddWhitelist, "whitelist")
	case "/blacklist_add":
		return s.addKeyword(args, s.rules.AddBlacklist, "blacklist")
	case "/rules_reload":
		if err := s.rules.Reload(); err != nil {
			return fmt.Sprintf("reload failed, previous rules kept: %v", err)
		}
		return "rules reloaded"
	case "/last":
		return s.last(ctx, args)
	case "/reprocess":
		return s.reprocess(ctx, args)
	default:
		return fmt.Sprintf("unknown command %s", command)
	}
}

func (s *Surface) status() string {
	st := s.governor.Status()

	next := "now"
	if wait := st.NextAllowedAt.Sub(s.now()); wait > 0 {
		next = fmt.Sprintf("in %s", wait.Round(time.Second))
	}

	return fmt.Sprintf(
		"mode=%s\npaused=%v\nnext_fetch=%s\nconsecutive_failures=%d",
		st.Mode, st.Paused, next, st.ConsecutiveFailures,
	)
}

func (s *Surface) setPaused(ctx context.Context, paused bool) string {
	if paused {
		s.governor.Pause()
	} else {
		s.governor.Resume()
	}
	s.metrics.SetPaused(paused)

	if err := s.pipeline.SaveGovernorSnapshot(ctx); err != nil {
		s.logger.Warn("failed to persist paused flag", "error", err)
	}

	if paused {
		return "paused"
	}
	return "resumed"
}

func (s *Surface) setThreshold(args []string) string {
	if len(args) != 1 {
		return "usage: /set_threshold <n>"
	}
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "threshold must be a number"
	}
	if err := s.rules.SetThreshold(value); err != nil {
		return fmt.Sprintf("failed to set threshold: %v", err)
	}
	return fmt.Sprintf("threshold set to %g", value)
}

func (s *Surface) addKeyword(args []string, add func(string) error, list string) string {
	keyword := strings.TrimSpace(strings.Join(args, " "))
	if keyword == "" {
		return fmt.Sprintf("usage: /%s_add <keyword>", list)
	}
	if err := add(keyword); err != nil {
		return fmt.Sprintf("failed to update %s: %v", list, err)
	}
	return fmt.Sprintf("added to %s: %s", list, keyword)
}

func (s *Surface) last(ctx context.Context, args []string) string {
	n := defaultLastN
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil {
			n = min(max(parsed, 1), maxLastN)
		}
	}

	posts, err := s.ledger.Recent(ctx, n)
	if err != nil {
		return fmt.Sprintf("failed to list posts: %v", err)
	}
	if len(posts) == 0 {
		return "no posts yet"
	}

	var b strings.Builder
	for _, post := range posts {
		status := string(post.Status)
		if post.Decision != "" {
			status = fmt.Sprintf("%.1f %s", post.Score, post.Decision)
		}
		fmt.Fprintf(&b, "%s [%s] %s\n%s\n", post.ID, status, post.Title, post.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Surface) reprocess(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "usage: /reprocess <post_id>"
	}

	if err := s.pipeline.Reprocess(ctx, args[0]); err != nil {
		return fmt.Sprintf("reprocess failed: %v", err)
	}
	return fmt.Sprintf("reprocessed %s", args[0])
}
