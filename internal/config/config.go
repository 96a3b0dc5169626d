package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile            string
	AdminAddr         string
	APIAddr           string
	BaseURL           string
	SessionTTL        time.Duration
	MessageWindow     int
	ScrollThreshold   int
	StoreRetryMax     uint64
	StoreRetryBackoff time.Duration
}

func Load() (*Config, error) {
	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "12h"))
	if err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	messageWindow, err := strconv.Atoi(getEnv("MESSAGE_WINDOW", "200"))
	if err != nil {
		return nil, fmt.Errorf("MESSAGE_WINDOW: %w", err)
	}
	scrollThreshold, err := strconv.Atoi(getEnv("SCROLL_THRESHOLD", "80"))
	if err != nil {
		return nil, fmt.Errorf("SCROLL_THRESHOLD: %w", err)
	}
	retryMax, err := strconv.ParseUint(getEnv("STORE_RETRY_MAX", "3"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("STORE_RETRY_MAX: %w", err)
	}
	retryBackoff, err := time.ParseDuration(getEnv("STORE_RETRY_BACKOFF", "100ms"))
	if err != nil {
		return nil, fmt.Errorf("STORE_RETRY_BACKOFF: %w", err)
	}

	cfg := &Config{
		DBFile:            getEnv("PEREPISKA_DB", "perepiska.db"),
		AdminAddr:         getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:           getEnv("API_ADDR", ":8080"),
		BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
		SessionTTL:        sessionTTL,
		MessageWindow:     messageWindow,
		ScrollThreshold:   scrollThreshold,
		StoreRetryMax:     retryMax,
		StoreRetryBackoff: retryBackoff,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("PEREPISKA_DB is required")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be greater than 0")
	}

	if c.MessageWindow <= 0 {
		return fmt.Errorf("MESSAGE_WINDOW must be greater than 0")
	}

	if c.ScrollThreshold < 0 {
		return fmt.Errorf("SCROLL_THRESHOLD must not be negative")
	}

	if c.StoreRetryBackoff <= 0 {
		return fmt.Errorf("STORE_RETRY_BACKOFF must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
