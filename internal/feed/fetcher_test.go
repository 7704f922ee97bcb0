package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestFetch(t *testing.T) {
	f := NewFetcher(testLogger())

	t.Run("fetched with validators", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
			fmt.Fprint(w, sampleRSS)
		}))
		defer server.Close()

		res := f.Fetch(context.Background(), server.URL, "", "")
		if res.Status != StatusFetched {
			t.Fatalf("Expected StatusFetched, got %v (err %v)", res.Status, res.Err)
		}
		if len(res.Body) == 0 {
			t.Error("Expected a body")
		}
		if res.ETag != `"v1"` {
			t.Errorf("Expected new etag, got %q", res.ETag)
		}
		if res.LastModified != "Mon, 02 Jan 2006 15:04:05 GMT" {
			t.Errorf("Expected new last-modified, got %q", res.LastModified)
		}
	})

	t.Run("sends conditional headers", func(t *testing.T) {
		var gotETag, gotLastModified string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotETag = r.Header.Get("If-None-Match")
			gotLastModified = r.Header.Get("If-Modified-Since")
			w.WriteHeader(http.StatusNotModified)
		}))
		defer server.Close()

		res := f.Fetch(context.Background(), server.URL, `"v1"`, "2006-01-02T15:04:05Z")
		if res.Status != StatusNotModified {
			t.Fatalf("Expected StatusNotModified, got %v", res.Status)
		}
		if gotETag != `"v1"` {
			t.Errorf("If-None-Match not sent, got %q", gotETag)
		}
		if gotLastModified != "2006-01-02T15:04:05Z" {
			t.Errorf("If-Modified-Since not sent, got %q", gotLastModified)
		}
		// 304 carried no validator headers, so the cached ones survive.
		if res.ETag != `"v1"` || res.LastModified != "2006-01-02T15:04:05Z" {
			t.Errorf("Cached validators not preserved: %q %q", res.ETag, res.LastModified)
		}
	})

	t.Run("no conditional headers without validators", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
				t.Error("Conditional headers sent without cached validators")
			}
			fmt.Fprint(w, sampleRSS)
		}))
		defer server.Close()

		if res := f.Fetch(context.Background(), server.URL, "", ""); res.Status != StatusFetched {
			t.Fatalf("Expected StatusFetched, got %v", res.Status)
		}
	})

	t.Run("server error is a failed outcome", func(t *testing.T) {
		for _, status := range []int{http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError} {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			res := f.Fetch(context.Background(), server.URL, "", "")
			server.Close()
			if res.Status != StatusFailed {
				t.Errorf("Status %d: expected StatusFailed, got %v", status, res.Status)
			}
			if res.Err == nil {
				t.Errorf("Status %d: expected an error", status)
			}
		}
	})

	t.Run("unreachable host is a failed outcome", func(t *testing.T) {
		res := f.Fetch(context.Background(), "http://127.0.0.1:1/feed", "", "")
		if res.Status != StatusFailed || res.Err == nil {
			t.Errorf("Expected StatusFailed with error, got %v (%v)", res.Status, res.Err)
		}
	})
}
