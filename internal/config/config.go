package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	BackendBaseURL            string        `env:"BACKEND_BASE_URL,required=true"`
	BackendUsername           string        `env:"BACKEND_USERNAME,required=true"`
	BackendTimeout            time.Duration `env:"BACKEND_TIMEOUT,default=30s"`
	DatabaseDSN               string        `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns            int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns            int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime         time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	RabbitMQURL               string        `env:"RABBITMQ_URL,required=true"`
	RedisURL                  string        `env:"REDIS_URL,required=true"`
	WebhookSiteURL            string        `env:"WEBHOOK_SITE_URL,required=true"`
	RateLimitPerSec           int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	SMSRateLimitPerSec        int           `env:"SMS_RATE_LIMIT_PER_SEC,default=0"`
	WorkerConcurrency         int           `env:"WORKER_CONCURRENCY,default=16"`
	BoundaryLookupConcurrency int           `env:"BOUNDARY_LOOKUP_CONCURRENCY,default=8"`
	PageSize                  int           `env:"PAGE_SIZE,default=20"`
	WorkspaceIdleTimeout      time.Duration `env:"WORKSPACE_IDLE_TIMEOUT,default=30m"`
	APIPort                   int           `env:"API_PORT,default=8080"`
	LogLevel                  string        `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file from the working directory, then parses
// the process environment. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive, got %s", c.BackendTimeout)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be at least 1, got %d", c.PageSize)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.BoundaryLookupConcurrency < 1 {
		return fmt.Errorf("BOUNDARY_LOOKUP_CONCURRENCY must be at least 1, got %d", c.BoundaryLookupConcurrency)
	}
	return nil
}
