package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"feedquest/internal/config"
	"feedquest/internal/database"
	"feedquest/internal/feed"
	"feedquest/internal/server"
	"feedquest/internal/summarize"
)

var (
	// Version will be set during build
	Version = "dev"

	// Command line flags
	port     = flag.Int("port", 0, "Port to run the server on (default: 8080 or FEEDQUEST_PORT)")
	dbPath   = flag.String("db", "", "Path to database file (default: data/feedquest.db or FEEDQUEST_DB_PATH)")
	opmlPath = flag.String("opml", "", "OPML file to import at startup")
	version  = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("FeedQuest version %s\n", Version)
		return
	}

	// Setup logging
	logger := log.New(os.Stdout, "feedquest: ", log.LstdFlags|log.Lshortfile)

	// Load .env if present, then read configuration from the environment
	if err := godotenv.Load(); err == nil {
		logger.Printf("Loaded configuration from .env")
	}
	cfg := config.GetConfig()

	// Override with command line flags if provided
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger.Printf("Starting FeedQuest v%s", Version)
	logger.Printf("Port: %d", cfg.Port)
	logger.Printf("Database: %s", cfg.DBPath)
	logger.Printf("Poll interval: %v", cfg.PollInterval)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database with optimized configuration
	dbConfig := database.DefaultConfig()
	db, err := database.NewDB(cfg.DBPath, dbConfig)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// The summarizer credential is required for every poll path; refusing
	// to start beats failing on every entry later.
	summarizer, err := summarize.NewClient(summarize.Config{
		APIKey:  cfg.SummarizerAPIKey,
		BaseURL: cfg.SummarizerURL,
		Model:   cfg.SummarizerModel,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize summarizer: %v (set FEEDQUEST_SUMMARIZER_API_KEY)", err)
	}

	// Initialize feed service
	feedService := feed.NewService(db, logger, summarizer, cfg.PollInterval, feed.PollerConfig{})
	feedService.Start()
	defer feedService.Stop()

	if *opmlPath != "" {
		f, err := os.Open(*opmlPath)
		if err != nil {
			logger.Fatalf("Failed to open OPML file: %v", err)
		}
		imported, err := feedService.ImportOPML(context.Background(), f)
		f.Close()
		if err != nil {
			logger.Fatalf("Failed to import OPML: %v", err)
		}
		logger.Printf("Imported %d feeds from %s", imported, *opmlPath)
	}

	// Do initial poll of the registered feeds
	result := feedService.PollBatch(context.Background(), nil)
	logger.Printf("Initial poll: %d feeds, %d entries added", result.FeedsProcessed, result.EntriesAdded)

	// Start server
	srv := server.NewServer(db, logger, feedService)
	logger.Printf("Starting server on port %d", cfg.Port)
	if err := srv.Start(cfg.GetAddress()); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}
