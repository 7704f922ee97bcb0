// Package server exposes the HTTP collaborator surface: feed registration,
// poll triggers, and listing.
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feedquest/internal/database"
	"feedquest/internal/feed"
)

type Server struct {
	db      *database.DB
	logger  *log.Logger
	feedSvc *feed.Service
	router  chi.Router
}

func NewServer(db *database.DB, logger *log.Logger, feedSvc *feed.Service) *Server {
	s := &Server{
		db:      db,
		logger:  logger,
		feedSvc: feedSvc,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)

	mux.Get("/health", s.handleHealth)

	mux.Route("/api", func(r chi.Router) {
		r.Post("/feeds", s.handleRegisterFeed)
		r.Get("/feeds", s.handleListFeeds)
		r.Get("/entries", s.handleListEntries)
		r.Post("/poll", s.handlePoll)
		r.Post("/opml", s.handleImportOPML)
	})

	s.router = mux
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // poll requests summarize synchronously
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}
