package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// Server
	RAGServerURL string        `env:"RAG_SERVER_URL" envDefault:"http://localhost:8000"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s"`

	// Status polling
	StatusPollInterval time.Duration `env:"STATUS_POLL_INTERVAL" envDefault:"30s"`

	// Local diagnostics; empty disables the interaction recorder.
	EventLogPath string `env:"EVENT_LOG_PATH" envDefault:"logs/events.jsonl"`

	// Presentation
	SessionTitleLimit int `env:"SESSION_TITLE_LIMIT" envDefault:"30"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
