package worker

import (
	"time"

	"github.com/skuflow-io/skuflow/internal/config"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = 2 * time.Second
)

// Config holds worker pool configuration.
type Config struct {
	Concurrency  int           // Maximum jobs processed at once
	PollInterval time.Duration // Delay between polls when the queue is empty
}

// LoadConfig loads worker configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	cfg := &Config{
		Concurrency:  config.GetEnvInt("WORKER_CONCURRENCY", defaultConcurrency),
		PollInterval: config.GetEnvDuration("WORKER_POLL_INTERVAL", defaultPollInterval),
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return cfg
}
