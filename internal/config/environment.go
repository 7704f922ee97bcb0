package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         int
	DBPath       string
	PollInterval time.Duration

	// Summarizer credentials and overrides. The API key has no default:
	// its absence is fatal at startup for the serving binary.
	SummarizerAPIKey string
	SummarizerURL    string
	SummarizerModel  string
}

func GetConfig() Config {
	config := Config{
		Port:         8080, // default port
		DBPath:       "data/feedquest.db",
		PollInterval: 15 * time.Minute,
	}

	// Override with environment variables if present
	if port := os.Getenv("FEEDQUEST_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}

	if dbPath := os.Getenv("FEEDQUEST_DB_PATH"); dbPath != "" {
		config.DBPath = dbPath
	}

	if interval := os.Getenv("FEEDQUEST_POLL_INTERVAL"); interval != "" {
		if secs, err := strconv.Atoi(interval); err == nil && secs > 0 {
			config.PollInterval = time.Duration(secs) * time.Second
		}
	}

	config.SummarizerAPIKey = os.Getenv("FEEDQUEST_SUMMARIZER_API_KEY")
	config.SummarizerURL = os.Getenv("FEEDQUEST_SUMMARIZER_URL")
	config.SummarizerModel = os.Getenv("FEEDQUEST_SUMMARIZER_MODEL")

	return config
}

func (c Config) GetAddress() string {
	return fmt.Sprintf(":%d", c.Port)
}
