package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/ports"
)

const apiBase = "https://api.telegram.org"

// Notifier pushes posts to the target channel and alerts to the admin chat
// via the Telegram bot API.
type Notifier struct {
	botToken    string
	channelID   string
	adminChatID string
	client      *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifiers.
func NewNotifier(botToken, channelID, adminChatID string) *Notifier {
	return &Notifier{
		botToken:    botToken,
		channelID:   channelID,
		adminChatID: adminChatID,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver posts a rendered message to the target channel.
func (n *Notifier) Deliver(ctx context.Context, post domain.Post) error {
	if n.botToken == "" || n.channelID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	return n.sendMessage(ctx, n.channelID, renderPost(post))
}

// Alert sends an operator notice to the admin chat.
func (n *Notifier) Alert(ctx context.Context, text string) error {
	if n.botToken == "" || n.adminChatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	return n.sendMessage(ctx, n.adminChatID, "⚠️ "+text)
}

func (n *Notifier) sendMessage(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

func renderPost(post domain.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nScore: %.1f\n", post.Title, post.Score)
	if post.AISummary != "" {
		b.WriteString(post.AISummary)
		b.WriteString("\n")
	} else if post.RawSummary != "" {
		b.WriteString(truncate(post.RawSummary, 400))
		b.WriteString("\n")
	}
	b.WriteString(post.URL)
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
