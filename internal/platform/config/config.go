// Package config loads the kiosk configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"gatescan/internal/scan"
)

// Classifier configures the optional LLM face-presence check. Disabled by
// default; the controller then falls back to the fixed detection dwell.
type Classifier struct {
	Enabled  bool          `env:"ENABLED" envDefault:"false"`
	Endpoint string        `env:"ENDPOINT"`
	APIKey   string        `env:"API_KEY"`
	Model    string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Config is the full kiosk configuration.
type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// OperatorKey signs the HS256 bearer tokens that guard operator
	// endpoints. Empty disables the guard; fine for a demo kiosk on a
	// closed network, not for anything else.
	OperatorKey string `env:"OPERATOR_KEY"`

	// SyntheticCamera serves a generated test pattern instead of waiting
	// for a kiosk to push frames.
	SyntheticCamera bool `env:"SYNTHETIC_CAMERA" envDefault:"false"`

	// ChoreographyFile optionally replaces the built-in reveal schedule
	// with a YAML one.
	ChoreographyFile string `env:"CHOREOGRAPHY_FILE"`

	Timings    scan.Timings    `envPrefix:"SCAN_"`
	Region     scan.RegionSpec `envPrefix:"REGION_"`
	Classifier Classifier      `envPrefix:"CLASSIFIER_"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables
// win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "GATESCAN_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Classifier.Enabled && c.Classifier.Endpoint == "" {
		return fmt.Errorf("config: GATESCAN_CLASSIFIER_ENDPOINT is required when the classifier is enabled")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level name to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
}
