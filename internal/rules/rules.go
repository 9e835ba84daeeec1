package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrRuleSource reports a malformed base rule file. The previously loaded
// base is retained when it occurs.
var ErrRuleSource = errors.New("malformed rule source")

// Rule is an effective rule set: the base layer merged with the override
// layer. Keyword matching is case-insensitive substring matching.
type Rule struct {
	Threshold       float64          `yaml:"threshold"`
	WhitelistWeight float64          `yaml:"whitelistWeight"`
	Whitelist       []string         `yaml:"whitelist"`
	Blacklist       []string         `yaml:"blacklist"`
	BlockTitleRegex []string         `yaml:"blockTitleRegex"`
	Topics          map[string]Topic `yaml:"topics"`
	Penalties       Penalties        `yaml:"penalties"`
	Bonuses         Bonuses          `yaml:"bonuses"`
	Length          LengthRules      `yaml:"length"`

	blockTitle []*regexp.Regexp
}

// Topic is a weighted keyword group contributing to the additive score.
type Topic struct {
	Keywords []string `yaml:"keywords"`
	Weight   float64  `yaml:"weight"`
}

// Penalties are negative additive score components.
type Penalties struct {
	TooShort float64 `yaml:"tooShort"`
	RSSOnly  float64 `yaml:"rssOnly"`
}

// Bonuses are positive additive score components.
type Bonuses struct {
	LongContent float64 `yaml:"longContent"`
}

// LengthRules set the character boundaries for length-based scoring.
type LengthRules struct {
	VeryShortChars int `yaml:"veryShortChars"`
	LongBonusChars int `yaml:"longBonusChars"`
}

// Override is the operator-mutable rule layer, persisted independently of
// the base so a base reload never discards operator edits.
type Override struct {
	Threshold *float64 `yaml:"threshold,omitempty"`
	Whitelist []string `yaml:"whitelist,omitempty"`
	Blacklist []string `yaml:"blacklist,omitempty"`
}

// Store holds the base and override rule layers and computes effective rules.
type Store struct {
	mu           sync.Mutex
	basePath     string
	overridePath string
	base         Rule
	override     Override
	logger       *slog.Logger
}

// NewStore loads both layers from disk. A missing override file is not an
// error; a missing or malformed base file is.
func NewStore(basePath, overridePath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		basePath:     basePath,
		overridePath: overridePath,
		logger:       logger,
	}

	base, err := loadBase(basePath, logger)
	if err != nil {
		return nil, err
	}
	s.base = base

	override, err := loadOverride(overridePath)
	if err != nil {
		return nil, err
	}
	s.override = override

	return s, nil
}

func loadBase(path string, logger *slog.Logger) (Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, fmt.Errorf("read base rules: %w", err)
	}

	// Defaults are seeded before decoding so that keys absent from the file
	// keep them, while an explicit zero (e.g. threshold: 0) stays zero.
	rule := defaultRule()
	if err := yaml.Unmarshal(raw, &rule); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrRuleSource, err)
	}

	rule.blockTitle = compilePatterns(rule.BlockTitleRegex, logger)
	return rule, nil
}

func loadOverride(path string) (Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Override{}, nil
		}
		return Override{}, fmt.Errorf("read rule overrides: %w", err)
	}

	var o Override
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return Override{}, fmt.Errorf("%w: %v", ErrRuleSource, err)
	}
	return o, nil
}

func defaultRule() Rule {
	return Rule{
		Threshold:       18,
		WhitelistWeight: 25,
		Penalties:       Penalties{TooShort: -8, RSSOnly: -4},
		Length:          LengthRules{VeryShortChars: 80, LongBonusChars: 1200},
	}
}

func compilePatterns(patterns []string, logger *slog.Logger) []*regexp.Regexp {
	if logger == nil {
		logger = slog.Default()
	}
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			logger.Warn("ignoring invalid blocked-title pattern", "pattern", p, "error", err)
			continue
		}
		out = append(out, re)
	}
	return out
}

// Effective returns the merged rule set. Keyword lists are unioned with
// override entries appended; the override threshold wins when set.
func (s *Store) Effective() Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeRule(s.base, s.override)
}

func mergeRule(base Rule, override Override) Rule {
	merged := base
	merged.Whitelist = unionKeywords(base.Whitelist, override.Whitelist)
	merged.Blacklist = unionKeywords(base.Blacklist, override.Blacklist)
	if override.Threshold != nil {
		merged.Threshold = *override.Threshold
	}
	return merged
}

func unionKeywords(base, extra []string) []string {
	out := slices.Clone(base)
	for _, kw := range extra {
		if !slices.Contains(out, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// AddWhitelist inserts a keyword into the override whitelist. Idempotent;
// persisted immediately.
func (s *Store) AddWhitelist(keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.override.Whitelist, keyword) {
		return nil
	}
	s.override.Whitelist = append(s.override.Whitelist, keyword)
	return s.saveOverrideLocked()
}

// AddBlacklist inserts a keyword into the override blacklist. Idempotent;
// persisted immediately.
func (s *Store) AddBlacklist(keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.override.Blacklist, keyword) {
		return nil
	}
	s.override.Blacklist = append(s.override.Blacklist, keyword)
	return s.saveOverrideLocked()
}

// SetThreshold overwrites the override threshold; persisted immediately.
func (s *Store) SetThreshold(value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.override.Threshold = &value
	return s.saveOverrideLocked()
}

func (s *Store) saveOverrideLocked() error {
	raw, err := yaml.Marshal(s.override)
	if err != nil {
		return fmt.Errorf("marshal rule overrides: %w", err)
	}

	dir := filepath.Dir(s.overridePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create overrides dir: %w", err)
	}

	tmp := s.overridePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write rule overrides: %w", err)
	}
	if err := os.Rename(tmp, s.overridePath); err != nil {
		return fmt.Errorf("replace rule overrides: %w", err)
	}
	return nil
}

// Reload re-reads the base layer from disk. The override layer is untouched.
// On failure the previously loaded base is retained.
func (s *Store) Reload() error {
	base, err := loadBase(s.basePath, s.logger)
	if err != nil {
		s.logger.Warn("rules reload failed, keeping previous base", "error", err)
		return err
	}

	s.mu.Lock()
	s.base = base
	s.mu.Unlock()

	s.logger.Info("rules reloaded", "base", s.basePath)
	return nil
}
