// Package config loads and validates the chatsync configuration: a YAML
// file on disk with environment-variable overrides for secrets and
// endpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"chatsync/internal/throttle"
)

// Config is the root configuration.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel" env:"CHATSYNC_LOG_LEVEL"`
}

// ServerConfig points at the backend. The bearer token is a secret and is
// normally supplied via CHATSYNC_TOKEN rather than the file.
type ServerConfig struct {
	WebSocketURL string `yaml:"websocketUrl" env:"CHATSYNC_WS_URL"`
	APIURL       string `yaml:"apiUrl" env:"CHATSYNC_API_URL"`
	Token        string `yaml:"token" env:"CHATSYNC_TOKEN"`
}

type ReconnectConfig struct {
	MaxAttempts  int `yaml:"maxAttempts"`
	DelaySeconds int `yaml:"delaySeconds"`
}

// ThrottleConfig mirrors throttle.Limits with per-event overrides.
type ThrottleConfig struct {
	PerSecond int                        `yaml:"perSecond"`
	Burst     int                        `yaml:"burst"`
	PerEvent  map[string]throttle.Limits `yaml:"perEvent,omitempty"`
}

type StoreConfig struct {
	MaxMessagesPerConversation int `yaml:"maxMessagesPerConversation"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" env:"CHATSYNC_METRICS_ADDR"`
}

// DefaultConfigDir returns ~/.chatsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatsync"
	}
	return filepath.Join(home, ".chatsync")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML file at path, applies defaults for unset fields, then
// applies environment overrides, then validates. A missing file is fine:
// defaults plus environment still make a usable config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the directory if needed. The
// token is blanked first so the secret never lands on disk by accident.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Server.Token = ""

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants the rest of the program relies on.
func Validate(cfg *Config) error {
	if cfg.Server.WebSocketURL == "" {
		return fmt.Errorf("server.websocketUrl is required (or CHATSYNC_WS_URL)")
	}
	if !strings.HasPrefix(cfg.Server.WebSocketURL, "ws://") &&
		!strings.HasPrefix(cfg.Server.WebSocketURL, "wss://") {
		return fmt.Errorf("server.websocketUrl must be a ws:// or wss:// URL, got %q", cfg.Server.WebSocketURL)
	}
	if cfg.Reconnect.MaxAttempts < 1 || cfg.Reconnect.MaxAttempts > 100 {
		return fmt.Errorf("reconnect.maxAttempts must be 1-100, got %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.DelaySeconds < 1 {
		return fmt.Errorf("reconnect.delaySeconds must be >= 1, got %d", cfg.Reconnect.DelaySeconds)
	}
	if cfg.Store.MaxMessagesPerConversation < 1 {
		return fmt.Errorf("store.maxMessagesPerConversation must be >= 1, got %d", cfg.Store.MaxMessagesPerConversation)
	}
	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("general.logLevel must be debug|info|warn|error, got %q", cfg.General.LogLevel)
	}
	return nil
}
