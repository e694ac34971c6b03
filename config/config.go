// Package config loads the SDK's client-side configuration: where the server
// lives, how patiently to dial it, and how to log. Configuration is read from
// a YAML file and merged over defaults; every field can also be set
// programmatically on the struct.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is the WebSocket URL of a locally running server.
	DefaultServerURL = "ws://127.0.0.1:1143/rpc"
	// DefaultConnectTimeout bounds the initial dial.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultDialsPerMinute bounds reconnection attempts.
	DefaultDialsPerMinute = 30
)

// Config is the client-side SDK configuration.
type Config struct {
	// ServerURL is the WebSocket URL of the server's RPC listener.
	ServerURL string `yaml:"server_url"`
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// DialsPerMinute bounds connection attempts, shared across reconnects.
	DialsPerMinute int `yaml:"dials_per_minute"`
	// LogFormat selects the log output format: "text" or "json".
	LogFormat string `yaml:"log_format"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ServerURL:      DefaultServerURL,
		ConnectTimeout: DefaultConnectTimeout,
		DialsPerMinute: DefaultDialsPerMinute,
		LogFormat:      "text",
	}
}

// Load reads the YAML file at path and merges it over Default. A missing file
// is not an error: Load returns the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and merges it over Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the client cannot act on.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("config: server_url must be a ws:// or wss:// URL, got %q", c.ServerURL)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("config: connect_timeout must not be negative")
	}
	if c.DialsPerMinute < 1 {
		return fmt.Errorf("config: dials_per_minute must be at least 1")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}
