package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/ports"
)

// Error kinds produced by the fetch transport. The pipeline never inspects
// raw responses; it only consumes the FetchOutcome classification.
var (
	ErrAntiBot       = errors.New("anti-bot challenge detected")
	ErrLoginRequired = errors.New("login required")
)

var antiBotMarkers = []string{
	"cf_clearance",
	"cloudflare",
	"just a moment",
	"captcha",
	"challenge-platform",
}

var loginMarkers = []string{
	"登录",
	"需要登录",
	"请登录",
	"需要权限",
}

// HTTPFetcher retrieves post pages over plain HTTP with a session cookie.
type HTTPFetcher struct {
	client    *http.Client
	cookie    string
	userAgent string
	logger    *slog.Logger
}

var _ ports.FullTextFetcher = (*HTTPFetcher)(nil)

// New builds a fetcher with the given session cookie and request timeout.
func New(cookie, userAgent string, timeout time.Duration, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		cookie:    cookie,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch performs a single attempt and classifies it. The outcome is always
// meaningful: FetchSuccess with extracted text, or a failure class with a
// descriptive error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, domain.FetchOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.FetchTransient, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Timeouts and transport errors are retried via governor backoff.
		return "", domain.FetchTransient, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable:
		// The usual status codes for challenge pages; confirm with body markers.
		body, _ := readBody(resp)
		if containsAny(body, antiBotMarkers) {
			return "", domain.FetchAntiBot, fmt.Errorf("%w: status %d", ErrAntiBot, resp.StatusCode)
		}
		return "", domain.FetchTransient, fmt.Errorf("unexpected status %s", resp.Status)
	case resp.StatusCode == http.StatusUnauthorized:
		return "", domain.FetchLoginRequired, fmt.Errorf("%w: status %d", ErrLoginRequired, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", domain.FetchTransient, fmt.Errorf("unexpected status %s", resp.Status)
	}

	html, err := readBody(resp)
	if err != nil {
		return "", domain.FetchTransient, fmt.Errorf("read body: %w", err)
	}

	if containsAny(html, antiBotMarkers) {
		return "", domain.FetchAntiBot, ErrAntiBot
	}
	if containsAny(html, loginMarkers) {
		return "", domain.FetchLoginRequired, ErrLoginRequired
	}

	text, err := extractMainText(html)
	if err != nil {
		return "", domain.FetchTransient, fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return "", domain.FetchTransient, errors.New("no main text extracted")
	}

	f.logger.Debug("full text fetched", "url", url, "len", len(text))
	return text, domain.FetchSuccess, nil
}

func containsAny(html string, markers []string) bool {
	hay := strings.ToLower(html)
	for _, m := range markers {
		if strings.Contains(hay, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
