package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file telesinkd looks for when --config is not
// given.
const DefaultPath = "telesink.yaml"

// Config represents a telesink.yaml configuration file.
type Config struct {
	Version         int           `yaml:"version"          json:"version"`
	Listen          string        `yaml:"listen"           json:"listen"`
	ReceivePolicy   string        `yaml:"receive_policy"   json:"receive_policy"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Discovery       Discovery     `yaml:"discovery"        json:"discovery"`
	Control         Control       `yaml:"control"          json:"control"`
	Mirror          Mirror        `yaml:"mirror"           json:"mirror"`
	Viewer          Viewer        `yaml:"viewer"           json:"viewer"`
	Log             Log           `yaml:"log"              json:"log"`

	// FilePath is the path the config was loaded from; empty for defaults.
	FilePath string `yaml:"-" json:"-"`
}

// Discovery configures the DNS-SD announcement.
type Discovery struct {
	Enabled    bool     `yaml:"enabled"              json:"enabled"`
	Instance   string   `yaml:"instance"             json:"instance"`
	Service    string   `yaml:"service"              json:"service"`
	Domain     string   `yaml:"domain"               json:"domain"`
	Address    string   `yaml:"address,omitempty"    json:"address,omitempty"`    // empty: auto-detect
	Interfaces []string `yaml:"interfaces,omitempty" json:"interfaces,omitempty"` // empty: all multicast interfaces
	Text       []string `yaml:"text,omitempty"       json:"text,omitempty"`
}

// Control configures the local control socket.
type Control struct {
	Socket string `yaml:"socket" json:"socket"` // empty disables the socket
}

// Mirror configures the optional Redis mirror.
type Mirror struct {
	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
	Key      string `yaml:"key"                 json:"key"`
}

// Viewer configures the HTML viewer pages.
type Viewer struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// Log configures the daemon's slog handler.
type Log struct {
	Level  string `yaml:"level"  json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:         1,
		Listen:          "0.0.0.0:5000",
		ReceivePolicy:   "both",
		ShutdownTimeout: 5 * time.Second,
		Discovery: Discovery{
			Enabled:  true,
			Instance: "ESP32Server",
			Service:  "_http._tcp",
			Domain:   "local.",
		},
		Control: Control{Socket: "/tmp/telesink.sock"},
		Mirror:  Mirror{Key: "telesink:events"},
		Viewer:  Viewer{PollInterval: 250 * time.Millisecond},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.FilePath = path
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
