package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DiscoveredFeed is the result of feed discovery for a site.
type DiscoveredFeed struct {
	URL          string
	Title        string
	ETag         string
	LastModified string
}

// Discover locates the RSS/Atom feed for a website. It first scans the
// page's <link rel="alternate"> tags for a feed declaration, resolving the
// href against the final response URL; failing that, it tries the site URL
// itself as a feed. Returns nil when no feed can be identified.
func (f *Fetcher) Discover(ctx context.Context, siteURL string) (*DiscoveredFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching site: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err == nil {
		if href := findFeedLink(doc); href != "" {
			feedURL := resolveRef(resp.Request.URL, href)
			f.logger.Printf("Discovered feed via <link>: %s", feedURL)
			return f.describeFeed(ctx, feedURL)
		}
	}

	// Fallback: some sites serve the feed at the supplied URL itself.
	discovered, err := f.describeFeed(ctx, siteURL)
	if err != nil {
		return nil, err
	}
	if discovered != nil {
		f.logger.Printf("Site URL itself is a valid feed: %s", siteURL)
	}
	return discovered, nil
}

// findFeedLink returns the href of the first RSS/Atom link declaration.
func findFeedLink(doc *goquery.Document) string {
	var href string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.ToLower(s.AttrOr("type", ""))
		if t == "application/rss+xml" || t == "application/atom+xml" {
			if h := s.AttrOr("href", ""); h != "" {
				href = h
				return false
			}
		}
		return true
	})
	return href
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// describeFeed fetches feedURL and confirms it parses as a feed, collecting
// the title and any cache validators the response carries.
func (f *Fetcher) describeFeed(ctx context.Context, feedURL string) (*DiscoveredFeed, error) {
	res := f.Fetch(ctx, feedURL, "", "")
	if res.Status != StatusFetched {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, nil
	}

	parsed := NewParser().Parse(res.Body)
	if parsed.Title == "" && len(parsed.Items) == 0 {
		return nil, nil
	}
	return &DiscoveredFeed{
		URL:          feedURL,
		Title:        parsed.Title,
		ETag:         res.ETag,
		LastModified: res.LastModified,
	}, nil
}
