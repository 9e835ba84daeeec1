package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/ports"
)

// Poller fetches the forum RSS feed and maps items to domain posts.
type Poller struct {
	url       string
	userAgent string
	parser    *gofeed.Parser
	logger    *slog.Logger
}

var _ ports.FeedSource = (*Poller)(nil)

// NewPoller builds a poller for a single feed URL.
func NewPoller(url, userAgent string, logger *slog.Logger) *Poller {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{Timeout: 30 * time.Second}

	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		url:       url,
		userAgent: userAgent,
		parser:    parser,
		logger:    logger,
	}
}

// Poll fetches and parses the feed once.
func (p *Poller) Poll(ctx context.Context) ([]domain.Post, error) {
	parsed, err := p.parser.ParseURLWithContext(p.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", p.url, err)
	}

	posts := make([]domain.Post, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		post := mapItem(item)
		if post.ID == "" {
			p.logger.Debug("skipping feed item without identity", "title", item.Title)
			continue
		}
		posts = append(posts, post)
	}

	p.logger.Debug("feed polled", "url", p.url, "items", len(posts))
	return posts, nil
}

func mapItem(item *gofeed.Item) domain.Post {
	id := item.GUID
	if id == "" {
		id = item.Link
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	return domain.Post{
		ID:          id,
		Title:       item.Title,
		URL:         item.Link,
		PublishedAt: published,
		RawSummary:  summary,
	}
}
