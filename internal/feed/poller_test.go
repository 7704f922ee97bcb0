package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"feedquest/internal/database"
	"feedquest/internal/summarize"
)

type stubSummarizer struct {
	mu     sync.Mutex
	calls  int
	result summarize.Result
	err    error
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string) (summarize.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result, s.err
}

func (s *stubSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newFeedTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestPoller(t *testing.T, db *database.DB, s Summarizer) *Poller {
	t.Helper()
	p := NewPoller(db, testLogger(), s, PollerConfig{})
	t.Cleanup(p.Close)
	return p
}

type rssItem struct {
	title, link string
}

func rssBody(items ...rssItem) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Test Feed</title><link>http://example.com</link>`)
	for _, it := range items {
		fmt.Fprintf(&sb, `<item><title>%s</title><link>%s</link><description>Body of %s</description></item>`,
			it.title, it.link, it.title)
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

func registerFeed(t *testing.T, db *database.DB, url string) {
	t.Helper()
	if _, err := db.UpsertFeed(context.Background(), url, database.FeedUpdate{}); err != nil {
		t.Fatalf("Failed to register feed: %v", err)
	}
}

func TestPollScenario(t *testing.T) {
	db := newFeedTestDB(t)
	stub := &stubSummarizer{result: summarize.Result{Summary: "tl;dr", Tags: []string{"ai"}}}
	poller := newTestPoller(t, db, stub)
	ctx := context.Background()

	var mu sync.Mutex
	var items []rssItem
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(w, rssBody(items...))
	}))
	defer server.Close()

	registerFeed(t, db, server.URL)

	// Empty feed: processed but nothing added.
	if added := poller.PollOne(ctx, server.URL); added != 0 {
		t.Fatalf("Expected 0 entries from empty feed, got %d", added)
	}

	// The feed now carries one entry.
	mu.Lock()
	items = []rssItem{{title: "A", link: "https://example.com/a"}}
	mu.Unlock()

	if added := poller.PollOne(ctx, server.URL); added != 1 {
		t.Fatalf("Expected 1 entry added, got %d", added)
	}

	// Identical content again: the (feed, link) dedup key blocks a second row.
	if added := poller.PollOne(ctx, server.URL); added != 0 {
		t.Fatalf("Expected 0 entries on repeat poll, got %d", added)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM entries WHERE url = ?", "https://example.com/a").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 stored entry, got %d", count)
	}

	// The successful enrichment made it onto the row.
	var aiSummary string
	if err := db.QueryRow("SELECT ai_summary FROM entries WHERE url = ?", "https://example.com/a").Scan(&aiSummary); err != nil {
		t.Fatal(err)
	}
	if aiSummary != "tl;dr" {
		t.Errorf("Expected stored AI summary, got %q", aiSummary)
	}
}

func TestConditionalFetchShortCircuit(t *testing.T) {
	db := newFeedTestDB(t)
	stub := &stubSummarizer{}
	poller := newTestPoller(t, db, stub)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"E"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprint(w, rssBody(rssItem{title: "A", link: "https://example.com/a"}))
	}))
	defer server.Close()

	etag := `"E"`
	if _, err := db.UpsertFeed(ctx, server.URL, database.FeedUpdate{ETag: &etag}); err != nil {
		t.Fatal(err)
	}

	if added := poller.PollOne(ctx, server.URL); added != 0 {
		t.Fatalf("Expected 0 entries on 304, got %d", added)
	}
	if stub.callCount() != 0 {
		t.Errorf("Summarizer called %d times on a 304", stub.callCount())
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Entries stored on a 304: %d", count)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	db := newFeedTestDB(t)
	stub := &stubSummarizer{}
	poller := newTestPoller(t, db, stub)
	ctx := context.Background()

	good1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(rssItem{title: "One", link: "https://one.example/a"}))
	}))
	defer good1.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	good2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(rssItem{title: "Two", link: "https://two.example/a"}))
	}))
	defer good2.Close()

	urls := []string{good1.URL, broken.URL, good2.URL}
	for _, u := range urls {
		registerFeed(t, db, u)
	}

	result := poller.PollBatch(ctx, urls)
	if result.FeedsProcessed != 3 {
		t.Errorf("Expected 3 feeds processed, got %d", result.FeedsProcessed)
	}
	if result.EntriesAdded != 2 {
		t.Errorf("Expected 2 entries from the healthy feeds, got %d", result.EntriesAdded)
	}
}

func TestEnrichmentDegradation(t *testing.T) {
	db := newFeedTestDB(t)
	stub := &stubSummarizer{err: &summarize.RetryableError{Err: fmt.Errorf("model unavailable")}}
	poller := newTestPoller(t, db, stub)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(rssItem{title: "A", link: "https://example.com/a"}))
	}))
	defer server.Close()
	registerFeed(t, db, server.URL)

	// Summarization exhausts its retries; the entry is still stored.
	if added := poller.PollOne(ctx, server.URL); added != 1 {
		t.Fatalf("Expected the entry to be stored despite enrichment failure, got %d added", added)
	}

	var aiSummary, aiTags string
	err := db.QueryRow("SELECT ai_summary, ai_tags FROM entries WHERE url = ?", "https://example.com/a").
		Scan(&aiSummary, &aiTags)
	if err != nil {
		t.Fatal(err)
	}
	if aiSummary != "" || aiTags != "" {
		t.Errorf("Expected empty enrichment, got summary=%q tags=%q", aiSummary, aiTags)
	}
}

func TestValidatorsPersisted(t *testing.T) {
	db := newFeedTestDB(t)
	poller := newTestPoller(t, db, &stubSummarizer{})
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		fmt.Fprint(w, rssBody(rssItem{title: "A", link: "https://example.com/a"}))
	}))
	defer server.Close()
	registerFeed(t, db, server.URL)

	poller.PollOne(ctx, server.URL)

	feed, err := db.GetFeed(ctx, server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if feed.ETag != `"v2"` {
		t.Errorf("Expected stored etag, got %q", feed.ETag)
	}
	if feed.LastModified != "2006-01-02T15:04:05Z" {
		t.Errorf("Expected normalized last-modified, got %q", feed.LastModified)
	}
	if feed.Title != "Test Feed" {
		t.Errorf("Expected feed title from payload, got %q", feed.Title)
	}
}

func TestUnregisteredFeedIsSkipped(t *testing.T) {
	db := newFeedTestDB(t)
	poller := newTestPoller(t, db, &stubSummarizer{})

	if added := poller.PollOne(context.Background(), "https://unregistered.example/feed"); added != 0 {
		t.Errorf("Expected 0 for unregistered feed, got %d", added)
	}
}

func TestEntryCapPerCycle(t *testing.T) {
	db := newFeedTestDB(t)
	poller := newTestPoller(t, db, &stubSummarizer{})
	ctx := context.Background()

	items := make([]rssItem, 0, 8)
	for i := 0; i < 8; i++ {
		items = append(items, rssItem{
			title: fmt.Sprintf("Entry %d", i),
			link:  fmt.Sprintf("https://example.com/%d", i),
		})
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(items...))
	}))
	defer server.Close()
	registerFeed(t, db, server.URL)

	// Only the newest 5 entries are taken per cycle.
	if added := poller.PollOne(ctx, server.URL); added != 5 {
		t.Errorf("Expected 5 entries on first cycle, got %d", added)
	}
	// The next cycle sees the same window: all duplicates.
	if added := poller.PollOne(ctx, server.URL); added != 0 {
		t.Errorf("Expected 0 entries on second cycle, got %d", added)
	}
}
