package rules

import (
	"strings"
	"testing"

	"ForumWatcher/internal/domain"
)

func scoringRule() Rule {
	r := Rule{
		Threshold:       5,
		WhitelistWeight: 25,
		Whitelist:       []string{"free credit"},
		Blacklist:       []string{"casino"},
		BlockTitleRegex: []string{`^\[ad\]`},
		Topics: map[string]Topic{
			"hosting": {Keywords: []string{"vps", "dedicated"}, Weight: 6},
			"deal":    {Keywords: []string{"discount"}, Weight: 4},
		},
		Penalties: Penalties{TooShort: -8, RSSOnly: -4},
		Bonuses:   Bonuses{LongContent: 3},
		Length:    LengthRules{VeryShortChars: 20, LongBonusChars: 200},
	}
	r.blockTitle = compilePatterns(r.BlockTitleRegex, nil)
	return r
}

func TestScoreBlacklistOverridesEverything(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	res := r.Score("Free credit VPS discount", "come play at our casino, plenty of discount codes inside", false)
	if res.Decision != domain.DecisionReject {
		t.Fatalf("expected reject, got %s", res.Decision)
	}
	if res.Total != RejectScore {
		t.Fatalf("expected sentinel score, got %v", res.Total)
	}
}

func TestScoreBlockedTitle(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	res := r.Score("[AD] brand new dedicated offer", "a reasonably long body about dedicated hosting", false)
	if res.Decision != domain.DecisionReject {
		t.Fatalf("expected reject for blocked title, got %s", res.Decision)
	}
}

func TestScoreAdditiveComponents(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	body := "A new VPS provider is offering a big discount this week. " + strings.Repeat("More details. ", 20)
	res := r.Score("Weekly roundup", body, false)

	// hosting 6 + deal 4 + long content 3
	if res.Total != 13 {
		t.Fatalf("expected total 13, got %v (%v)", res.Total, res.Reasons)
	}
	if res.Decision != domain.DecisionPush {
		t.Fatalf("expected push above threshold, got %s", res.Decision)
	}
}

func TestScoreWhitelistMatchesOnce(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	r.Whitelist = []string{"free credit", "freebie"}
	body := "free credit and a freebie, short"
	res := r.Score("t", body, false)

	// whitelist 25 (once) + too-short does not apply (body >= 20 chars)
	if res.Total != 25 {
		t.Fatalf("expected single whitelist hit, got %v (%v)", res.Total, res.Reasons)
	}
}

func TestScorePenalties(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	res := r.Score("vps", "tiny", true)

	// hosting 6 - too short 8 - rss only 4
	if res.Total != -6 {
		t.Fatalf("expected total -6, got %v (%v)", res.Total, res.Reasons)
	}
	if res.Decision != domain.DecisionIgnore {
		t.Fatalf("expected ignore below threshold, got %s", res.Decision)
	}
}

func TestScoreThresholdBoundary(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	r.Topics = map[string]Topic{"hosting": {Keywords: []string{"vps"}, Weight: 5}}
	body := "vps content " + strings.Repeat("x", 30)
	res := r.Score("t", body, false)

	if res.Total != 5 {
		t.Fatalf("expected total 5, got %v (%v)", res.Total, res.Reasons)
	}
	if res.Decision != domain.DecisionPush {
		t.Fatalf("score equal to threshold should push, got %s", res.Decision)
	}
}

func TestScoreCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := scoringRule()
	res := r.Score("DEDICATED server news", strings.Repeat("neutral text ", 10), false)
	if res.Total != 6 {
		t.Fatalf("expected topic match on uppercase title, got %v (%v)", res.Total, res.Reasons)
	}
}
