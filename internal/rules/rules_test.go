package rules

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const baseYAML = `
threshold: 10
whitelistWeight: 25
whitelist:
  - vps deal
blacklist:
  - casino
topics:
  hosting:
    keywords:
      - dedicated server
    weight: 6
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	basePath := filepath.Join(dir, "rules.yaml")
	writeFile(t, basePath, baseYAML)

	s, err := NewStore(basePath, filepath.Join(dir, "rules.overrides.yaml"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, dir
}

func TestStoreMissingOverrideIsFine(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	rule := s.Effective()
	if rule.Threshold != 10 {
		t.Fatalf("expected threshold 10, got %v", rule.Threshold)
	}
	if len(rule.Whitelist) != 1 || rule.Whitelist[0] != "vps deal" {
		t.Fatalf("unexpected whitelist: %v", rule.Whitelist)
	}
}

func TestExplicitZeroThresholdKept(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	basePath := filepath.Join(dir, "rules.yaml")
	writeFile(t, basePath, "threshold: 0\nwhitelist:\n  - vps deal\n")

	s, err := NewStore(basePath, filepath.Join(dir, "rules.overrides.yaml"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rule := s.Effective()
	if rule.Threshold != 0 {
		t.Fatalf("explicit zero threshold replaced by default: %v", rule.Threshold)
	}
	// Keys absent from the file still get their defaults.
	if rule.WhitelistWeight != 25 {
		t.Fatalf("unexpected whitelist weight: %v", rule.WhitelistWeight)
	}
	if rule.Length.VeryShortChars != 80 {
		t.Fatalf("unexpected length default: %v", rule.Length.VeryShortChars)
	}
}

func TestCompilePatternsWarnsOnInvalid(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	compiled := compilePatterns([]string{`^\[ad\]`, `broken(`}, logger)
	if len(compiled) != 1 {
		t.Fatalf("expected only the valid pattern to compile, got %d", len(compiled))
	}
	if !strings.Contains(buf.String(), "broken(") {
		t.Fatalf("expected a warning naming the bad pattern, log:\n%s", buf.String())
	}
}

func TestStoreMalformedBase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	basePath := filepath.Join(dir, "rules.yaml")
	writeFile(t, basePath, "threshold: [not, a, number]")

	_, err := NewStore(basePath, filepath.Join(dir, "rules.overrides.yaml"), nil)
	if !errors.Is(err, ErrRuleSource) {
		t.Fatalf("expected ErrRuleSource, got %v", err)
	}
}

func TestAddWhitelistIdempotentAndPersisted(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)

	if err := s.AddWhitelist("hetzner"); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}
	if err := s.AddWhitelist("hetzner"); err != nil {
		t.Fatalf("AddWhitelist repeat: %v", err)
	}

	rule := s.Effective()
	count := 0
	for _, kw := range rule.Whitelist {
		if kw == "hetzner" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected keyword once, got %d occurrences", count)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "rules.overrides.yaml"))
	if err != nil {
		t.Fatalf("read overrides: %v", err)
	}
	var o Override
	if err := yaml.Unmarshal(raw, &o); err != nil {
		t.Fatalf("unmarshal overrides: %v", err)
	}
	if len(o.Whitelist) != 1 || o.Whitelist[0] != "hetzner" {
		t.Fatalf("unexpected persisted override: %+v", o)
	}
}

func TestOverrideThresholdWins(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if err := s.SetThreshold(3); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}
	if got := s.Effective().Threshold; got != 3 {
		t.Fatalf("expected threshold 3, got %v", got)
	}
}

func TestOverrideSurvivesRestart(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)
	if err := s.AddBlacklist("referral spam"); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	if err := s.SetThreshold(7); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}

	reopened, err := NewStore(filepath.Join(dir, "rules.yaml"), filepath.Join(dir, "rules.overrides.yaml"), nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	rule := reopened.Effective()
	if rule.Threshold != 7 {
		t.Fatalf("expected threshold 7 after reopen, got %v", rule.Threshold)
	}
	found := false
	for _, kw := range rule.Blacklist {
		if kw == "referral spam" {
			found = true
		}
	}
	if !found {
		t.Fatalf("blacklist override lost after reopen: %v", rule.Blacklist)
	}
}

func TestReloadFailureKeepsPreviousBase(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "rules.yaml"), "threshold: {broken")

	if err := s.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := s.Effective().Threshold; got != 10 {
		t.Fatalf("previous base lost after failed reload, threshold %v", got)
	}
}

func TestReloadPicksUpNewBase(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "rules.yaml"), "threshold: 42")

	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := s.Effective().Threshold; got != 42 {
		t.Fatalf("expected threshold 42, got %v", got)
	}
}
