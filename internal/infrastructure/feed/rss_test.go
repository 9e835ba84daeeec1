package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Forum feed</title>
  <link>https://forum.example.com</link>
  <item>
    <title>Cheap VPS offer</title>
    <link>https://forum.example.com/post/101</link>
    <guid>post-101</guid>
    <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
    <description>A provider posted a discounted VPS plan.</description>
  </item>
  <item>
    <title>No identity</title>
    <description>Item without guid or link is dropped.</description>
  </item>
  <item>
    <title>Fallback to link</title>
    <link>https://forum.example.com/post/102</link>
    <description>Uses the link when the guid is missing.</description>
  </item>
</channel>
</rss>`

func TestPollMapsItems(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	poller := NewPoller(srv.URL, "forum-watcher/1.0", nil)
	posts, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if len(posts) != 2 {
		t.Fatalf("expected 2 posts (identity-less item dropped), got %d", len(posts))
	}

	first := posts[0]
	if first.ID != "post-101" {
		t.Fatalf("expected guid as id, got %q", first.ID)
	}
	if first.Title != "Cheap VPS offer" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.URL != "https://forum.example.com/post/101" {
		t.Fatalf("unexpected url: %q", first.URL)
	}
	if first.RawSummary != "A provider posted a discounted VPS plan." {
		t.Fatalf("unexpected summary: %q", first.RawSummary)
	}
	want := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Fatalf("unexpected published time: %s", first.PublishedAt)
	}

	if posts[1].ID != "https://forum.example.com/post/102" {
		t.Fatalf("expected link fallback id, got %q", posts[1].ID)
	}

	if gotUA != "forum-watcher/1.0" {
		t.Fatalf("expected custom user agent, got %q", gotUA)
	}
}

func TestPollBadFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not xml at all"))
	}))
	defer srv.Close()

	poller := NewPoller(srv.URL, "forum-watcher/1.0", nil)
	if _, err := poller.Poll(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}
