package domain

import "time"

// Post is a core entity describing a forum post discovered via RSS.
type Post struct {
	ID          string
	Title       string
	URL         string
	PublishedAt time.Time
	RawSummary  string
	FullText    string
	AISummary   string
	Score       float64
	Decision    Decision
	Status      Status
	PushedAt    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BestText returns the richest text available for scoring and summarization.
func (p Post) BestText() string {
	if p.FullText != "" {
		return p.FullText
	}
	return p.RawSummary
}

// Decision is the terminal verdict of the rule engine for a post.
type Decision string

const (
	DecisionPush   Decision = "push"
	DecisionIgnore Decision = "ignore"
	DecisionReject Decision = "reject"
)

// Status enumerates pipeline milestones.
type Status string

const (
	StatusNew     Status = "new"
	StatusScored  Status = "scored"
	StatusPushed  Status = "pushed"
	StatusSkipped Status = "skipped"
	StatusReject  Status = "rejected"
	StatusFailed  Status = "failed"
)

// ScoreResult captures the rule engine output for a single post.
type ScoreResult struct {
	Total    float64
	Decision Decision
	Reasons  []string
}

// Summary is the AI-generated digest of a post.
type Summary struct {
	Text      string
	KeyPoints []string
}

// Render flattens the summary into a single displayable block.
func (s Summary) Render() string {
	if len(s.KeyPoints) == 0 {
		return s.Text
	}
	out := s.Text
	for _, p := range s.KeyPoints {
		out += "\n• " + p
	}
	return out
}

// FetchOutcome classifies a full-text fetch attempt. The transport assigns
// it; the fetch governor only consumes it.
type FetchOutcome int

const (
	FetchSuccess FetchOutcome = iota
	FetchTransient
	FetchAntiBot
	FetchLoginRequired
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchSuccess:
		return "success"
	case FetchTransient:
		return "transient"
	case FetchAntiBot:
		return "antibot"
	case FetchLoginRequired:
		return "login_required"
	}
	return "unknown"
}
