package feed

import (
	"time"
)

// FetchStatus classifies the outcome of a conditional fetch.
type FetchStatus int

const (
	StatusFetched FetchStatus = iota
	StatusNotModified
	StatusFailed
)

// FetchResult is the tagged outcome of one conditional GET.
type FetchResult struct {
	Status       FetchStatus
	Body         []byte
	ETag         string
	LastModified string
	Err          error
}

// Item is one normalized entry record in the feed's native order.
type Item struct {
	Title     string
	Link      string
	Published time.Time
	Content   string
	Summary   string
	Tags      []string
}

// BatchResult aggregates a poll over several feeds.
type BatchResult struct {
	FeedsProcessed int `json:"processed_feeds"`
	EntriesAdded   int `json:"added_entries"`
}
