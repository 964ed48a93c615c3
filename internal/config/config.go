package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration. Values come from an optional TOML
// file overridden by command-line flags.
type Config struct {
	APIBaseURL    string `toml:"api_base_url"`    // HTTP endpoints (sessions, chat, history)
	StreamBaseURL string `toml:"stream_base_url"` // WebSocket origin for progress telemetry
	DBPath        string `toml:"db_path"`         // SQLite file holding client state
	LogDir        string `toml:"log_dir"`         // Rotating log/trace/metric files

	HistoryPageSize int `toml:"history_page_size"`

	// ReconnectBaseMillis is the unit of the linear stream backoff.
	ReconnectBaseMillis int `toml:"reconnect_base_millis"`

	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIBaseURL:          "http://localhost:8000",
		StreamBaseURL:       "ws://localhost:8000",
		DBPath:              "agentlens.db",
		LogDir:              "logs",
		HistoryPageSize:     20,
		ReconnectBaseMillis: 1000,
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; a present but unreadable one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ReconnectBaseDelay converts the configured backoff unit to a duration.
func (c Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseMillis) * time.Millisecond
}
