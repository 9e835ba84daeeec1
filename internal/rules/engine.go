package rules

import (
	"fmt"
	"strings"

	"ForumWatcher/internal/domain"
)

// RejectScore is the sentinel assigned when a blacklist rule matches. It
// overrides any positive contribution.
const RejectScore = -999

// Score evaluates a post against the rule set. Blacklist matches always win
// over whitelist matches; everything else is additive.
func (r Rule) Score(title, text string, rssOnly bool) domain.ScoreResult {
	hay := strings.ToLower(title + "\n" + text)

	for _, kw := range r.Blacklist {
		if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
			return domain.ScoreResult{
				Total:    RejectScore,
				Decision: domain.DecisionReject,
				Reasons:  []string{"blacklist: " + kw},
			}
		}
	}
	for _, re := range r.blockTitle {
		if re.MatchString(title) {
			return domain.ScoreResult{
				Total:    RejectScore,
				Decision: domain.DecisionReject,
				Reasons:  []string{"blocked title: " + re.String()},
			}
		}
	}

	var (
		total   float64
		reasons []string
	)

	for _, kw := range r.Whitelist {
		if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
			total += r.WhitelistWeight
			reasons = append(reasons, "whitelist: "+kw)
			break
		}
	}

	for name, topic := range r.Topics {
		for _, kw := range topic.Keywords {
			if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
				total += topic.Weight
				reasons = append(reasons, fmt.Sprintf("topic %s: %s", name, kw))
				break
			}
		}
	}

	length := len(strings.TrimSpace(text))
	if length < r.Length.VeryShortChars {
		total += r.Penalties.TooShort
		reasons = append(reasons, "too short")
	}
	if length >= r.Length.LongBonusChars && r.Bonuses.LongContent != 0 {
		total += r.Bonuses.LongContent
		reasons = append(reasons, "long content")
	}

	if rssOnly {
		total += r.Penalties.RSSOnly
		reasons = append(reasons, "rss only")
	}

	decision := domain.DecisionIgnore
	if total >= r.Threshold {
		decision = domain.DecisionPush
	}

	return domain.ScoreResult{Total: total, Decision: decision, Reasons: reasons}
}
