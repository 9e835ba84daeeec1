package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"ForumWatcher/internal/config"
	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/ports"
)

// maxInputChars truncates very long posts before sending them to the model.
const maxInputChars = 24000

// OpenAIClient implements ports.Summarizer backed by OpenAI-compatible APIs.
type OpenAIClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Summarizer = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.AIConfig) *OpenAIClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Summarize requests a short digest of the given post content.
func (c *OpenAIClient) Summarize(ctx context.Context, title, url, text string) (domain.Summary, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Summary{}, fmt.Errorf("summarizer misconfigured")
	}

	text = clipRunes(text, maxInputChars)

	user := fmt.Sprintf("Title: %s\nURL: %s\n\n%s\n\nSummarize in 2-3 sentences, then list key points as lines starting with \"- \".", title, url, text)

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": c.systemPrompt},
			{"role": "user", "content": user},
		},
	})
	if err != nil {
		return domain.Summary{}, fmt.Errorf("marshal summarize payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Summary{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("summarize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Summary{}, fmt.Errorf("summarizer error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Summary{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.Summary{}, fmt.Errorf("summarizer returned no choices")
	}

	return splitSummary(parsed.Choices[0].Message.Content), nil
}

// clipRunes bounds s to at most limit bytes without splitting a rune.
func clipRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// splitSummary separates the prose part from "- " bullet lines.
func splitSummary(content string) domain.Summary {
	var (
		prose  []string
		points []string
	)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if bullet, ok := strings.CutPrefix(trimmed, "- "); ok {
			points = append(points, bullet)
			continue
		}
		if trimmed != "" {
			prose = append(prose, trimmed)
		}
	}
	return domain.Summary{
		Text:      strings.Join(prose, " "),
		KeyPoints: points,
	}
}
