// Package summarize provides a rate-limited, retrying client for an
// OpenAI-compatible text summarization API.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "http://localhost:11434/v1"
	defaultModel       = "gpt-oss:20b"
	defaultMinInterval = 2 * time.Second // 30 requests per 60s quota
	defaultMaxAttempts = 3
	requestTimeout     = 60 * time.Second

	// Inputs are capped before the call rather than chunked into several
	// requests, to stay inside the pacing budget.
	maxInputChars = 8000

	maxDampingDelay = 500 * time.Millisecond
)

// ErrMissingAPIKey is returned by NewClient when no credential is supplied.
// Callers that need summarization treat it as fatal at startup.
var ErrMissingAPIKey = errors.New("summarizer API key is not set")

// Result is a successful enrichment.
type Result struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// RetryableError marks a transient failure: 429, 5xx, timeout, or a
// transport-level error.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure that a retry cannot fix: auth rejection,
// malformed payload, or an unexpected response shape.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Config holds the gateway settings. Zero values fall back to defaults.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MinInterval time.Duration
	MaxAttempts int
}

// Client talks to the summarization API. A single Client owns the global
// request pacer and the one-slot admission gate, so every caller shares the
// same cadence no matter how many feeds are polled concurrently.
type Client struct {
	cfg     Config
	logger  *log.Logger
	http    *http.Client
	limiter *rate.Limiter
	gate    chan struct{}
}

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		gate:    make(chan struct{}, 1),
	}, nil
}

// Summarize converts text into a summary and tag set. At most one call is
// in flight at any time; each outbound request waits for the pacer. Up to
// MaxAttempts attempts are made with exponential backoff between them, and
// the final error of an exhausted run is a *RetryableError or
// *PermanentError the caller can degrade on.
func (c *Client) Summarize(ctx context.Context, text string) (Result, error) {
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}

	select {
	case c.gate <- struct{}{}:
		defer func() { <-c.gate }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 0

	var result Result
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}

		result, lastErr = c.call(ctx, text)
		if lastErr == nil {
			break
		}
		c.logger.Printf("Summarization attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, lastErr)

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			break
		}
		if attempt < c.cfg.MaxAttempts {
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return Result{}, err
			}
		}
	}

	// Extra randomized delay after the last attempt damps burst rate
	// beyond the hard interval floor.
	if err := sleepCtx(ctx, time.Duration(rand.Int63n(int64(maxDampingDelay)))); err != nil {
		return Result{}, err
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	return result, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are a skilled assistant specialized in creating clear and concise summaries."

func userPrompt(text string) string {
	return "Create a comprehensive paragraph summarizing the key points of the following text, " +
		"and suggest up to five topical tags. " +
		`Respond with a JSON object of the form {"summary": "...", "tags": ["..."]}:` +
		"\n\n" + text
}

// call performs a single chat-completions request and classifies every
// failure as retryable or permanent.
func (c *Client) call(ctx context.Context, text string) (Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(text)},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return Result{}, &PermanentError{Err: fmt.Errorf("encoding request: %w", err)}
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, &RetryableError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return Result{}, &PermanentError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &RetryableError{Err: fmt.Errorf("reading response: %w", err)}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Result{}, &PermanentError{Err: fmt.Errorf("invalid JSON response: %w", err)}
	}
	if len(cr.Choices) == 0 {
		return Result{}, &PermanentError{Err: errors.New("response contains no choices")}
	}

	return parseResult(cr.Choices[0].Message.Content)
}

// parseResult decodes the model's reply. Models sometimes wrap JSON in
// markdown fences; those are peeled off before decoding.
func parseResult(content string) (Result, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var res Result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return Result{}, &PermanentError{Err: fmt.Errorf("unexpected completion shape: %w", err)}
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
