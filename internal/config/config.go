// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Storage: Postgres wins over Pebble; neither means in-memory.
	DatabaseURL string        `env:"DATABASE_URL"`
	PebblePath  string        `env:"PEBBLE_PATH"`
	RedisURL    string        `env:"REDIS_URL"`
	RedisTTL    time.Duration `env:"REDIS_TTL" envDefault:"30s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ledger.trades"`

	// Price feed. An empty QuoteURL serves quotes from the static table.
	QuoteURL        string        `env:"QUOTE_URL"`
	QuotePricePath  string        `env:"QUOTE_PRICE_PATH" envDefault:"$.chart.result[0].meta.regularMarketPrice"`
	QuoteRatePerSec float64       `env:"QUOTE_RATE_PER_SEC" envDefault:"5"`
	QuoteCacheTTL   time.Duration `env:"QUOTE_CACHE_TTL" envDefault:"15s"`
	QuoteTimeout    time.Duration `env:"QUOTE_TIMEOUT" envDefault:"3s"`

	CommitTimeout     time.Duration `env:"COMMIT_TIMEOUT" envDefault:"5s"`
	MaxCommitAttempts int           `env:"MAX_COMMIT_ATTEMPTS" envDefault:"5"`

	JWTSecret       string   `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	CORSOrigins     []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	DefaultCurrency string   `env:"DEFAULT_CURRENCY" envDefault:"USD"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.MaxCommitAttempts < 1 {
		return fmt.Errorf("config: MAX_COMMIT_ATTEMPTS must be at least 1, got %d", c.MaxCommitAttempts)
	}
	if c.CommitTimeout <= 0 || c.QuoteTimeout <= 0 {
		return fmt.Errorf("config: COMMIT_TIMEOUT and QUOTE_TIMEOUT must be positive")
	}
	if c.IsProduction() && c.JWTSecret == "dev-secret-change-me" {
		return fmt.Errorf("config: JWT_SECRET must be set in production")
	}
	return nil
}

func (c Config) IsProduction() bool { return strings.EqualFold(c.Env, "production") }
