package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"feedquest/internal/database"
	"feedquest/internal/summarize"
)

const (
	// Newest-entries cap per feed per cycle. Entries beyond the cap are
	// only picked up on a later poll if the feed still serves them.
	defaultMaxEntriesPerFeed = 5

	defaultConcurrency = 8

	// Bound on the default batch selected by PollBatch(nil).
	defaultBatchSize = 20
)

// Summarizer enriches entry text with a summary and tags.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (summarize.Result, error)
}

// PollerConfig tunes the orchestrator. Zero values fall back to defaults.
type PollerConfig struct {
	Concurrency       int
	MaxEntriesPerFeed int
	DefaultBatchSize  int
}

// Poller runs the fetch-dedup-enrich-persist pipeline over registered
// feeds. Per-feed units run concurrently; all storage writes funnel
// through a single writer goroutine, and summarization is globally
// serialized by the gateway's own admission gate.
type Poller struct {
	db         *database.DB
	logger     *log.Logger
	fetcher    *Fetcher
	parser     *Parser
	summarizer Summarizer
	writer     *storeWriter
	cfg        PollerConfig
}

func NewPoller(db *database.DB, logger *log.Logger, summarizer Summarizer, cfg PollerConfig) *Poller {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxEntriesPerFeed < 1 {
		cfg.MaxEntriesPerFeed = defaultMaxEntriesPerFeed
	}
	if cfg.DefaultBatchSize < 1 {
		cfg.DefaultBatchSize = defaultBatchSize
	}
	return &Poller{
		db:         db,
		logger:     logger,
		fetcher:    NewFetcher(logger),
		parser:     NewParser(),
		summarizer: summarizer,
		writer:     newStoreWriter(),
		cfg:        cfg,
	}
}

// Close shuts down the writer goroutine.
func (p *Poller) Close() {
	p.writer.close()
}

// UpsertFeed registers or updates a feed row through the single writer.
func (p *Poller) UpsertFeed(ctx context.Context, url string, update database.FeedUpdate) (bool, error) {
	n, err := p.writer.do(ctx, func(ctx context.Context) (int64, error) {
		ok, err := p.db.UpsertFeed(ctx, url, update)
		if ok {
			return 1, err
		}
		return 0, err
	})
	return n == 1, err
}

// PollOne fetches a single registered feed and returns the number of new
// entries added. Failures contribute zero; they are logged, never raised.
func (p *Poller) PollOne(ctx context.Context, url string) int {
	added, err := p.processFeed(ctx, url)
	if err != nil {
		p.logger.Printf("Error processing feed %s: %v", url, err)
		return 0
	}
	return added
}

// PollBatch polls the given feed URLs concurrently. A nil or empty slice
// selects a bounded batch of registered feeds ordered by staleness. A
// failure in any single feed never aborts the batch; it counts as zero.
func (p *Poller) PollBatch(ctx context.Context, urls []string) BatchResult {
	if len(urls) == 0 {
		feeds, err := p.db.ListStaleFeeds(ctx, p.cfg.DefaultBatchSize)
		if err != nil {
			p.logger.Printf("Error listing feeds to poll: %v", err)
			return BatchResult{}
		}
		for _, f := range feeds {
			urls = append(urls, f.URL)
		}
	}

	p.logger.Printf("Polling %d feeds", len(urls))

	results := make(chan int, len(urls))
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(url string) {
			defer wg.Done()
			defer func() { <-sem }()
			added, err := p.processFeed(ctx, url)
			if err != nil {
				p.logger.Printf("Error processing feed %s: %v", url, err)
				added = 0
			}
			results <- added
		}(url)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	total := 0
	for added := range results {
		total += added
	}

	p.logger.Printf("Poll completed: %d feeds, %d entries added", len(urls), total)
	return BatchResult{FeedsProcessed: len(urls), EntriesAdded: total}
}

// processFeed runs the whole pipeline for one feed: validators lookup,
// conditional fetch, parse, enrich, insert, validator upsert.
func (p *Poller) processFeed(ctx context.Context, url string) (int, error) {
	row, err := p.db.GetFeed(ctx, url)
	if errors.Is(err, database.ErrNotFound) {
		p.logger.Printf("Feed %s is not registered, skipping", url)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("looking up feed: %w", err)
	}

	res := p.fetcher.Fetch(ctx, url, row.ETag, row.LastModified)
	switch res.Status {
	case StatusFailed:
		return 0, res.Err
	case StatusNotModified:
		p.logger.Printf("Feed %s not modified since last fetch", url)
		return 0, nil
	}

	parsed := p.parser.Parse(res.Body)
	items := parsed.Items
	if len(items) == 0 {
		p.logger.Printf("No entries found in feed %s", url)
	}
	if len(items) > p.cfg.MaxEntriesPerFeed {
		items = items[:p.cfg.MaxEntriesPerFeed]
	}

	added := 0
	for _, item := range items {
		// Prefer structured content over the summary field.
		text := item.Content
		if text == "" {
			text = item.Summary
		}
		if text == "" {
			continue
		}

		enrichment, err := p.summarizer.Summarize(ctx, text)
		if err != nil {
			// Loss of enrichment is acceptable, loss of the entry is not.
			p.logger.Printf("Summarization failed for %s: %v", url, err)
			enrichment = summarize.Result{}
		}

		fields := database.EntryFields{
			Title:     item.Title,
			URL:       item.Link,
			Published: database.FormatTime(item.Published),
			Content:   item.Content,
			Summary:   item.Summary,
			Tags:      item.Tags,
			AISummary: enrichment.Summary,
			AITags:    enrichment.Tags,
		}
		id, err := p.writer.do(ctx, func(ctx context.Context) (int64, error) {
			return p.db.InsertEntryIfAbsent(ctx, url, fields)
		})
		if err != nil {
			p.logger.Printf("Error storing entry %s from %s: %v", item.Link, url, err)
			continue
		}
		if id != 0 {
			added++
		}
	}

	// Persist any new cache validators for the next conditional fetch.
	update := database.FeedUpdate{}
	if res.ETag != "" {
		update.ETag = &res.ETag
	}
	if res.LastModified != "" {
		update.LastModified = &res.LastModified
	}
	if parsed.Title != "" {
		update.Title = &parsed.Title
	}
	if update.ETag != nil || update.LastModified != nil || update.Title != nil {
		if _, err := p.UpsertFeed(ctx, url, update); err != nil {
			p.logger.Printf("Feed %s metadata not updated: %v", url, err)
		}
	}

	return added, nil
}
