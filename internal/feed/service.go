package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"feedquest/internal/database"
)

const defaultPollInterval = 15 * time.Minute

// Service owns the poll orchestrator and drives it on a schedule. It also
// exposes the registration workflow shared by the HTTP surface and the
// OPML importer.
type Service struct {
	logger   *log.Logger
	poller   *Poller
	interval time.Duration
	done     chan struct{}
}

func NewService(db *database.DB, logger *log.Logger, summarizer Summarizer, interval time.Duration, cfg PollerConfig) *Service {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Service{
		logger:   logger,
		poller:   NewPoller(db, logger, summarizer, cfg),
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	go s.pollLoop()
}

func (s *Service) Stop() {
	close(s.done)
	s.poller.Close()
}

func (s *Service) pollLoop() {
	s.logger.Printf("Starting feed poll loop (interval %v)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Printf("Starting scheduled poll")
			s.poller.PollBatch(context.Background(), nil)
		case <-s.done:
			s.logger.Printf("Feed service shutting down")
			return
		}
	}
}

// PollOne fetches one registered feed by URL.
func (s *Service) PollOne(ctx context.Context, url string) BatchResult {
	return BatchResult{FeedsProcessed: 1, EntriesAdded: s.poller.PollOne(ctx, url)}
}

// PollBatch fetches a set of feeds, or a stale-ordered default batch when
// urls is empty.
func (s *Service) PollBatch(ctx context.Context, urls []string) BatchResult {
	return s.poller.PollBatch(ctx, urls)
}

// Register discovers the feed for siteURL, stores it, and kicks off an
// initial poll. The returned message describes the outcome for the caller.
func (s *Service) Register(ctx context.Context, siteURL string) (string, error) {
	discovered, err := s.poller.fetcher.Discover(ctx, siteURL)
	if err != nil {
		return "", fmt.Errorf("feed discovery failed: %w", err)
	}
	if discovered == nil {
		return fmt.Sprintf("No RSS/Atom feed found for %s.", siteURL), nil
	}

	update := database.FeedUpdate{}
	if discovered.Title != "" {
		update.Title = &discovered.Title
	}
	if discovered.ETag != "" {
		update.ETag = &discovered.ETag
	}
	if discovered.LastModified != "" {
		update.LastModified = &discovered.LastModified
	}
	if _, err := s.poller.UpsertFeed(ctx, discovered.URL, update); err != nil {
		return "", fmt.Errorf("registering feed: %w", err)
	}

	// Pick up the feed's current entries right away. A failed initial
	// poll does not fail the registration.
	s.poller.PollOne(ctx, discovered.URL)

	return fmt.Sprintf("Feed registered: %s", discovered.URL), nil
}

// ImportOPML registers every feed referenced by the OPML document in r and
// returns the number of feeds stored.
func (s *Service) ImportOPML(ctx context.Context, r io.Reader) (int, error) {
	outlines, err := ParseOPML(r)
	if err != nil {
		return 0, fmt.Errorf("parsing OPML: %w", err)
	}

	imported := 0
	for _, o := range outlines {
		update := database.FeedUpdate{}
		if o.Text != "" {
			title := o.Text
			update.Title = &title
		}
		ok, err := s.poller.UpsertFeed(ctx, o.XMLURL, update)
		if err != nil {
			s.logger.Printf("Error importing feed %s: %v", o.XMLURL, err)
			continue
		}
		if ok {
			imported++
		}
	}
	return imported, nil
}
