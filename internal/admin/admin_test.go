package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/governor"
	"ForumWatcher/internal/rules"
	"ForumWatcher/internal/usecase"
)

type stubLedger struct {
	posts  []domain.Post
	pushed map[string]bool
	conf   map[string]string
}

func newStubLedger() *stubLedger {
	return &stubLedger{pushed: make(map[string]bool), conf: make(map[string]string)}
}

func (s *stubLedger) UpsertFromFeed(context.Context, domain.Post) (bool, error) { return true, nil }

func (s *stubLedger) Get(_ context.Context, id string) (domain.Post, error) {
	for _, p := range s.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Post{}, errors.New("post not found")
}

func (s *stubLedger) NextPending(context.Context) (domain.Post, bool, error) {
	return domain.Post{}, false, nil
}

func (s *stubLedger) SetStatus(context.Context, string, domain.Status) error { return nil }
func (s *stubLedger) SaveContent(context.Context, string, string) error      { return nil }
func (s *stubLedger) SaveScore(context.Context, string, domain.ScoreResult) error {
	return nil
}
func (s *stubLedger) SaveSummary(context.Context, string, domain.Summary) error { return nil }

func (s *stubLedger) IsPushed(_ context.Context, id string) (bool, error) {
	return s.pushed[id], nil
}

func (s *stubLedger) RecordPush(_ context.Context, id string, _ time.Time) error {
	s.pushed[id] = true
	return nil
}

func (s *stubLedger) ClearPush(_ context.Context, id string) error {
	delete(s.pushed, id)
	return nil
}

func (s *stubLedger) Recent(_ context.Context, n int) ([]domain.Post, error) {
	if n > len(s.posts) {
		n = len(s.posts)
	}
	return s.posts[:n], nil
}

func (s *stubLedger) Cleanup(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *stubLedger) GetConf(_ context.Context, key string) (string, error) {
	return s.conf[key], nil
}

func (s *stubLedger) SetConf(_ context.Context, key, value string) error {
	s.conf[key] = value
	return nil
}

type stubNotifier struct{ delivered int }

func (s *stubNotifier) Deliver(context.Context, domain.Post) error {
	s.delivered++
	return nil
}
func (s *stubNotifier) Alert(context.Context, string) error { return nil }

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string) (string, domain.FetchOutcome, error) {
	return "", domain.FetchTransient, errors.New("unreachable")
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(context.Context, string, string, string) (domain.Summary, error) {
	return domain.Summary{Text: "summary"}, nil
}

type stubMetrics struct{ paused bool }

func (s *stubMetrics) RSSPoll(int)                        {}
func (s *stubMetrics) PostProcessed()                     {}
func (s *stubMetrics) FetchOutcome(domain.FetchOutcome)   {}
func (s *stubMetrics) FetchDenied(string)                 {}
func (s *stubMetrics) PostPushed()                        {}
func (s *stubMetrics) PostRejected()                      {}
func (s *stubMetrics) SummarizerFailure()                 {}
func (s *stubMetrics) SetConsecutiveFailures(string, int) {}
func (s *stubMetrics) SetPaused(paused bool)              { s.paused = paused }

type fixture struct {
	surface  *Surface
	governor *governor.Governor
	rules    *rules.Store
	ledger   *stubLedger
	notifier *stubNotifier
	metrics  *stubMetrics
	rulesDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	basePath := filepath.Join(dir, "rules.yaml")
	base := "threshold: 10\nwhitelist:\n  - golang\n"
	if err := os.WriteFile(basePath, []byte(base), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	store, err := rules.NewStore(basePath, filepath.Join(dir, "rules.overrides.yaml"), nil)
	if err != nil {
		t.Fatalf("rules store: %v", err)
	}

	gov := governor.New(governor.Config{MinInterval: time.Minute}, slog.Default())
	ledger := newStubLedger()
	notifier := &stubNotifier{}
	metrics := &stubMetrics{}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Ledger:     ledger,
		Rules:      store,
		Governor:   gov,
		Fetcher:    stubFetcher{},
		Summarizer: stubSummarizer{},
		Notifier:   notifier,
		Metrics:    metrics,
		Policy:     usecase.Policy{FulltextPolicy: "never"},
	})

	return &fixture{
		surface:  New(gov, store, ledger, pipeline, metrics, slog.Default()),
		governor: gov,
		rules:    store,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		rulesDir: dir,
	}
}

func TestStatusReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply := f.surface.Handle(context.Background(), "/status")

	for _, want := range []string{"mode=full", "paused=false", "next_fetch=now", "consecutive_failures=0"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("status reply missing %q:\n%s", want, reply)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if reply := f.surface.Handle(ctx, "/pause"); reply != "paused" {
		t.Fatalf("unexpected pause reply: %s", reply)
	}
	if !f.governor.Paused() {
		t.Fatal("governor should be paused")
	}
	if !f.metrics.paused {
		t.Fatal("paused gauge should be set")
	}
	if len(f.ledger.conf) == 0 {
		t.Fatal("paused flag should be persisted")
	}

	if reply := f.surface.Handle(ctx, "/resume"); reply != "resumed" {
		t.Fatalf("unexpected resume reply: %s", reply)
	}
	if f.governor.Paused() {
		t.Fatal("governor should be resumed")
	}
}

func TestSetThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if reply := f.surface.Handle(ctx, "/set_threshold 6.5"); reply != "threshold set to 6.5" {
		t.Fatalf("unexpected reply: %s", reply)
	}
	if got := f.rules.Effective().Threshold; got != 6.5 {
		t.Fatalf("expected threshold 6.5, got %v", got)
	}

	if reply := f.surface.Handle(ctx, "/set_threshold abc"); reply != "threshold must be a number" {
		t.Fatalf("unexpected reply for bad input: %s", reply)
	}
	if reply := f.surface.Handle(ctx, "/set_threshold"); !strings.HasPrefix(reply, "usage:") {
		t.Fatalf("expected usage reply, got: %s", reply)
	}
}

func TestKeywordCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if reply := f.surface.Handle(ctx, "/whitelist_add cheap vps"); reply != "added to whitelist: cheap vps" {
		t.Fatalf("unexpected reply: %s", reply)
	}
	if reply := f.surface.Handle(ctx, "/blacklist_add casino"); reply != "added to blacklist: casino" {
		t.Fatalf("unexpected reply: %s", reply)
	}

	rule := f.rules.Effective()
	foundWhite, foundBlack := false, false
	for _, kw := range rule.Whitelist {
		if kw == "cheap vps" {
			foundWhite = true
		}
	}
	for _, kw := range rule.Blacklist {
		if kw == "casino" {
			foundBlack = true
		}
	}
	if !foundWhite || !foundBlack {
		t.Fatalf("keywords not applied: whitelist=%v blacklist=%v", rule.Whitelist, rule.Blacklist)
	}

	if reply := f.surface.Handle(ctx, "/whitelist_add"); !strings.HasPrefix(reply, "usage:") {
		t.Fatalf("expected usage reply, got: %s", reply)
	}
}

func TestRulesReload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	base := filepath.Join(f.rulesDir, "rules.yaml")
	if err := os.WriteFile(base, []byte("threshold: 99\n"), 0o644); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	if reply := f.surface.Handle(ctx, "/rules_reload"); reply != "rules reloaded" {
		t.Fatalf("unexpected reply: %s", reply)
	}
	if got := f.rules.Effective().Threshold; got != 99 {
		t.Fatalf("expected threshold 99 after reload, got %v", got)
	}

	if err := os.WriteFile(base, []byte("threshold: {oops"), 0o644); err != nil {
		t.Fatalf("corrupt rules: %v", err)
	}
	reply := f.surface.Handle(ctx, "/rules_reload")
	if !strings.HasPrefix(reply, "reload failed, previous rules kept") {
		t.Fatalf("unexpected reply for failed reload: %s", reply)
	}
	if got := f.rules.Effective().Threshold; got != 99 {
		t.Fatalf("previous rules lost after failed reload, threshold %v", got)
	}
}

func TestLastListsPosts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if reply := f.surface.Handle(ctx, "/last"); reply != "no posts yet" {
		t.Fatalf("unexpected reply for empty ledger: %s", reply)
	}

	for i := 1; i <= 3; i++ {
		f.ledger.posts = append(f.ledger.posts, domain.Post{
			ID:       fmt.Sprintf("p%d", i),
			Title:    fmt.Sprintf("Post %d", i),
			URL:      fmt.Sprintf("https://forum.example.com/post/p%d", i),
			Status:   domain.StatusPushed,
			Decision: domain.DecisionPush,
			Score:    21,
		})
	}

	reply := f.surface.Handle(ctx, "/last 2")
	if !strings.Contains(reply, "p1 [21.0 push] Post 1") {
		t.Fatalf("unexpected /last output:\n%s", reply)
	}
	if strings.Contains(reply, "p3") {
		t.Fatalf("/last 2 should list two posts:\n%s", reply)
	}
}

func TestReprocess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.ledger.posts = append(f.ledger.posts, domain.Post{
		ID:         "p1",
		Title:      "Golang offer",
		URL:        "https://forum.example.com/post/p1",
		RawSummary: "A golang related offer with enough body text that the short-content penalty never enters the picture here.",
	})
	f.ledger.pushed["p1"] = true

	if reply := f.surface.Handle(ctx, "/reprocess p1"); reply != "reprocessed p1" {
		t.Fatalf("unexpected reply: %s", reply)
	}
	if f.notifier.delivered != 1 {
		t.Fatalf("expected one redelivery, got %d", f.notifier.delivered)
	}
	if !f.ledger.pushed["p1"] {
		t.Fatal("reprocessed post should be marked pushed again")
	}

	if reply := f.surface.Handle(ctx, "/reprocess missing"); !strings.HasPrefix(reply, "reprocess failed") {
		t.Fatalf("unexpected reply for unknown post: %s", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if reply := f.surface.Handle(context.Background(), "/frobnicate"); reply != "unknown command /frobnicate" {
		t.Fatalf("unexpected reply: %s", reply)
	}
}
