package database

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Error definitions
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// TimeLayout is the storage format for every timestamp column: ISO-8601,
// second precision, UTC with a trailing Z.
const TimeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in the storage timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NormalizeTimestamp converts an HTTP-date or ISO-8601 string into the
// storage format. Unparseable or empty input yields the current time.
func NormalizeTimestamp(ts string) string {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return FormatTime(time.Now())
	}
	for _, layout := range []string{http.TimeFormat, time.RFC1123, time.RFC1123Z, time.RFC3339, TimeLayout} {
		if t, err := time.Parse(layout, ts); err == nil {
			return FormatTime(t)
		}
	}
	return FormatTime(time.Now())
}

// Feed represents a registered feed row.
type Feed struct {
	ID           int64
	URL          string
	Title        string
	ETag         string
	LastModified string
	Added        string
}

// Entry represents a stored article belonging to a feed.
type Entry struct {
	ID        int64
	FeedID    int64
	Title     string
	URL       string
	Published string
	Content   string
	Summary   string
	Tags      []string
	AISummary string
	AITags    []string
	Added     string
	FeedTitle string // Joined from feeds table
}

// FeedUpdate carries the optional metadata fields of an upsert. Nil fields
// are left untouched on an existing row.
type FeedUpdate struct {
	Title        *string
	ETag         *string
	LastModified *string
}

// UpsertFeed inserts a feed row for url if absent, otherwise updates only
// the supplied metadata fields. It reports whether a row exists after the
// call. An empty URL is rejected.
func (db *DB) UpsertFeed(ctx context.Context, url string, update FeedUpdate) (bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return false, ErrInvalidInput
	}

	now := FormatTime(time.Now())
	var lastModified string
	if update.LastModified != nil {
		lastModified = NormalizeTimestamp(*update.LastModified)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	insertLM := lastModified
	if insertLM == "" {
		insertLM = now
	}
	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO feeds (url, added, title, etag, last_modified) VALUES (?, ?, ?, ?, ?)",
		url, now, update.Title, update.ETag, insertLM,
	)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	// The row already existed: apply any supplied metadata updates.
	if inserted == 0 {
		sets := make([]string, 0, 3)
		args := make([]interface{}, 0, 4)
		if update.Title != nil {
			sets = append(sets, "title = ?")
			args = append(args, *update.Title)
		}
		if update.ETag != nil {
			sets = append(sets, "etag = ?")
			args = append(args, *update.ETag)
		}
		if update.LastModified != nil {
			sets = append(sets, "last_modified = ?")
			args = append(args, lastModified)
		}
		if len(sets) > 0 {
			args = append(args, url)
			if _, err := tx.ExecContext(ctx,
				"UPDATE feeds SET "+strings.Join(sets, ", ")+" WHERE url = ?", args...,
			); err != nil {
				return false, err
			}
		}
	}

	return true, tx.Commit()
}

// GetFeed looks up a feed by its canonical URL.
func (db *DB) GetFeed(ctx context.Context, url string) (*Feed, error) {
	var f Feed
	var title, etag, lastModified sql.NullString
	err := db.QueryRowContext(ctx,
		"SELECT id, url, title, etag, last_modified, added FROM feeds WHERE url = ?",
		url,
	).Scan(&f.ID, &f.URL, &title, &etag, &lastModified, &f.Added)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Title = title.String
	f.ETag = etag.String
	f.LastModified = lastModified.String
	return &f, nil
}

// ListFeeds returns all registered feeds in insertion order.
func (db *DB) ListFeeds(ctx context.Context) ([]Feed, error) {
	return db.queryFeeds(ctx,
		"SELECT id, url, title, etag, last_modified, added FROM feeds ORDER BY id",
	)
}

// ListStaleFeeds returns up to limit feeds ordered by staleness, oldest
// last_modified first. Rows without a validator sort first.
func (db *DB) ListStaleFeeds(ctx context.Context, limit int) ([]Feed, error) {
	return db.queryFeeds(ctx,
		`SELECT id, url, title, etag, last_modified, added FROM feeds
		ORDER BY last_modified IS NOT NULL, last_modified ASC, id
		LIMIT ?`,
		limit,
	)
}

func (db *DB) queryFeeds(ctx context.Context, query string, args ...interface{}) ([]Feed, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		var title, etag, lastModified sql.NullString
		if err := rows.Scan(&f.ID, &f.URL, &title, &etag, &lastModified, &f.Added); err != nil {
			return nil, err
		}
		f.Title = title.String
		f.ETag = etag.String
		f.LastModified = lastModified.String
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// EntryFields carries the data of a candidate entry row.
type EntryFields struct {
	Title     string
	URL       string
	Published string
	Content   string
	Summary   string
	Tags      []string
	AISummary string
	AITags    []string
}

// InsertEntryIfAbsent inserts an entry for the feed identified by feedURL
// and returns the new row id. It returns 0 without error when the
// (feed, link) pair already exists or the feed is unknown; callers cannot
// distinguish the two, matching the store's relaxed insert-or-ignore
// contract.
func (db *DB) InsertEntryIfAbsent(ctx context.Context, feedURL string, fields EntryFields) (int64, error) {
	var feedID int64
	err := db.QueryRowContext(ctx, "SELECT id FROM feeds WHERE url = ?", feedURL).Scan(&feedID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (
			feed_id, title, url, published, content, summary, tags, ai_summary, ai_tags, added
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feedID, fields.Title, fields.URL, fields.Published, fields.Content, fields.Summary,
		joinTags(fields.Tags), fields.AISummary, joinTags(fields.AITags), FormatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	inserted, err := res.RowsAffected()
	if err != nil || inserted == 0 {
		return 0, err
	}
	return res.LastInsertId()
}

// GetRecentEntries retrieves the newest stored entries with feed titles.
func (db *DB) GetRecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT e.id, e.feed_id, e.title, e.url, e.published, e.content, e.summary,
		        e.tags, e.ai_summary, e.ai_tags, e.added, COALESCE(f.title, '')
		FROM entries e
		JOIN feeds f ON e.feed_id = f.id
		ORDER BY e.added DESC, e.id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var title, url, published, content, summary, tags, aiSummary, aiTags sql.NullString
		err := rows.Scan(
			&e.ID, &e.FeedID, &title, &url, &published, &content, &summary,
			&tags, &aiSummary, &aiTags, &e.Added, &e.FeedTitle,
		)
		if err != nil {
			return nil, err
		}
		e.Title = title.String
		e.URL = url.String
		e.Published = published.String
		e.Content = content.String
		e.Summary = summary.String
		e.Tags = splitTags(tags.String)
		e.AISummary = aiSummary.String
		e.AITags = splitTags(aiTags.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
