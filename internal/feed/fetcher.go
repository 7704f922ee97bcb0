package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

const (
	fetchTimeout = 10 * time.Second
	userAgent    = "FeedQuest/1.0"

	// Cap feed payloads to avoid huge downloads.
	maxFeedBytes = 5 << 20
)

// Fetcher performs conditional GETs against feed URLs. It never retries; a
// failed feed is simply skipped for the cycle and retried on the next poll,
// since its cache validators are left unchanged.
type Fetcher struct {
	logger *log.Logger
	client *http.Client
}

func NewFetcher(logger *log.Logger) *Fetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Fetcher{
		logger: logger,
		client: &http.Client{
			Timeout:   fetchTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
	}
}

// Fetch issues a GET for url, sending If-None-Match/If-Modified-Since when
// the cached validators are non-empty. The returned result is tagged as
// fetched, not modified, or failed; it never carries a partial body.
func (f *Fetcher) Fetch(ctx context.Context, url, etag, lastModified string) FetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failed(fmt.Errorf("timeout fetching %s: %w", url, err))
		}
		return failed(fmt.Errorf("error fetching feed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			Status:       StatusNotModified,
			ETag:         coalesce(resp.Header.Get("ETag"), etag),
			LastModified: coalesce(resp.Header.Get("Last-Modified"), lastModified),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failed(fmt.Errorf("unexpected response status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return failed(fmt.Errorf("error reading feed body: %w", err))
	}

	return FetchResult{
		Status:       StatusFetched,
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

func failed(err error) FetchResult {
	return FetchResult{Status: StatusFailed, Err: err}
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
