// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config is the full runtime configuration. Every field has a sensible
// default; the service starts with an empty environment.
type Config struct {
	Addr           string        `env:"YTHARVEST_ADDR" envDefault:":8080"`
	DBPath         string        `env:"YTHARVEST_DB_PATH" envDefault:"data/channels.db"`
	HTTPTimeout    time.Duration `env:"YTHARVEST_HTTP_TIMEOUT" envDefault:"15s"`
	EnrichWorkers  int           `env:"YTHARVEST_ENRICH_WORKERS" envDefault:"4"`
	MaxCSVRows     int           `env:"YTHARVEST_MAX_CSV_ROWS" envDefault:"10000"`
	RequestTimeout time.Duration `env:"YTHARVEST_REQUEST_TIMEOUT" envDefault:"60s"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
