// Package config loads and validates the application configuration from
// YAML, layered over per-component defaults. Every component validates
// its own section; validation failures are fatal at construction time.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/trackstream/breaker"
	"github.com/c360/trackstream/correlate"
	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/gateway/ws"
	"github.com/c360/trackstream/ingest"
	"github.com/c360/trackstream/monitor"
	"github.com/c360/trackstream/store"
)

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerConfig controls the HTTP surface (metrics, health, dashboard,
// websocket feed).
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig controls the optional JetStream-backed position store.
// When URL is empty the in-memory store is used instead.
type NATSConfig struct {
	URL   string           `yaml:"url"`
	Store store.NATSConfig `yaml:"store"`
}

// Config is the complete application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	NATS   NATSConfig   `yaml:"nats"`
	// Sections lists the track sections the pipeline subscribes to at
	// startup.
	Sections []string `yaml:"sections"`

	Breaker   breaker.Config   `yaml:"breaker"`
	Ingest    ingest.Config    `yaml:"ingest"`
	Correlate correlate.Config `yaml:"correlate"`
	Monitor   monitor.Config   `yaml:"monitor"`
	Gateway   ws.Config        `yaml:"gateway"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			Store: store.DefaultNATSConfig(),
		},
		Sections:  []string{"SEC-A"},
		Breaker:   breaker.DefaultConfig(),
		Ingest:    ingest.DefaultConfig(),
		Correlate: correlate.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Gateway:   ws.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapFatal(err, "config", "config file read failed")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapFatal(err, "config", "config file parse failed")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "log level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "log format must be text or json")
	}
	if c.Server.ListenAddr == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "server listen_addr is required")
	}
	if len(c.Sections) == 0 {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "at least one section is required")
	}

	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if err := c.Ingest.Validate(); err != nil {
		return err
	}
	if err := c.Correlate.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	return c.Gateway.Validate()
}
