package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type feedResponse struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Added        string `json:"added"`
}

type entryResponse struct {
	ID        int64    `json:"id"`
	FeedTitle string   `json:"feed_title,omitempty"`
	Title     string   `json:"title,omitempty"`
	URL       string   `json:"url,omitempty"`
	Published string   `json:"published,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	AISummary string   `json:"ai_summary,omitempty"`
	AITags    []string `json:"ai_tags,omitempty"`
	Added     string   `json:"added"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SiteURL string `json:"site_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SiteURL == "" {
		http.Error(w, "site_url is required", http.StatusBadRequest)
		return
	}

	message, err := s.feedSvc.Register(r.Context(), req.SiteURL)
	if err != nil {
		s.logger.Printf("Error registering feed for %s: %v", req.SiteURL, err)
		http.Error(w, "feed registration failed", http.StatusBadGateway)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeeds(r.Context())
	if err != nil {
		s.logger.Printf("Error listing feeds: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, feedResponse{
			URL:          f.URL,
			Title:        f.Title,
			ETag:         f.ETag,
			LastModified: f.LastModified,
			Added:        f.Added,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := s.db.GetRecentEntries(r.Context(), limit)
	if err != nil {
		s.logger.Printf("Error listing entries: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:        e.ID,
			FeedTitle: e.FeedTitle,
			Title:     e.Title,
			URL:       e.URL,
			Published: e.Published,
			Summary:   e.Summary,
			Tags:      e.Tags,
			AISummary: e.AISummary,
			AITags:    e.AITags,
			Added:     e.Added,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handlePoll triggers a poll: ?url= fetches one feed, a JSON body with urls
// fetches that set, and an empty request polls a stale-ordered batch.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if url := r.URL.Query().Get("url"); url != "" {
		s.respondJSON(w, http.StatusOK, s.feedSvc.PollOne(r.Context(), url))
		return
	}

	var req struct {
		URLs []string `json:"urls"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, s.feedSvc.PollBatch(r.Context(), req.URLs))
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	imported, err := s.feedSvc.ImportOPML(r.Context(), r.Body)
	if err != nil {
		http.Error(w, "invalid OPML document", http.StatusBadRequest)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"imported_feeds": imported})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Error encoding response: %v", err)
	}
}
