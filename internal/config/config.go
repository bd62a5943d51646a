// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains server configuration parameters.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	MachineID string `env:"MACHINE_ID"`
	HTTP      HTTP   `envPrefix:"HTTP_"`
	Store     Store  `envPrefix:"STORE_"`
	HostDB    HostDB `envPrefix:"HOSTDB_"`
	API       API    `envPrefix:"API_"`
}

// HTTP contains listener parameters.
type HTTP struct {
	Port           int      `env:"PORT" envDefault:"8090"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Store points at the local key store.
type Store struct {
	Path string `env:"PATH" envDefault:"data/social.db"`
}

// HostDB points at the host application's database.
type HostDB struct {
	Path string `env:"PATH" envDefault:"data/aetherone.db"`
}

// API contains remote sharing server parameters.
type API struct {
	BaseURL          string        `env:"BASE_URL" envDefault:"http://localhost:3000"`
	Version          string        `env:"VERSION" envDefault:"v1"`
	AnalysisEndpoint string        `env:"ANALYSIS_ENDPOINT" envDefault:"/analysis/share"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"10s"`
	RateLimit        float64       `env:"RATE_LIMIT" envDefault:"10"`
	RateBurst        int           `env:"RATE_BURST" envDefault:"20"`
	BreakerFailures  uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout   time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
	// TokenLeeway treats a token as expired this long before its exp claim.
	TokenLeeway time.Duration `env:"TOKEN_LEEWAY" envDefault:"30s"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
