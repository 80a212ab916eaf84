package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Coordination CoordinationConfig `toml:"coordination"`
	Journal      JournalConfig      `toml:"journal"`
	Inbox        InboxConfig        `toml:"inbox"`
	Relay        RelayConfig        `toml:"relay"`
	Server       ServerConfig       `toml:"server"`
	Raw          map[string]any     `toml:"-"`
	Path         string             `toml:"-"`
}

type CoordinationConfig struct {
	BatchSize         int `toml:"batch_size"`
	GetTimeoutMS      int `toml:"get_timeout_ms"`
	DefaultTTLMS      int `toml:"default_ttl_ms"`
	ProcessIntervalMS int `toml:"process_interval_ms"`
	RetryAttempts     int `toml:"retry_attempts"`
	RetryBackoffMS    int `toml:"retry_backoff_ms"`
}

type JournalConfig struct {
	DBPath string `toml:"db_path"`
}

type InboxConfig struct {
	Root    string `toml:"root"`
	Enabled bool   `toml:"enabled"`
}

type RelayConfig struct {
	Addr    string `toml:"addr"`
	Enabled bool   `toml:"enabled"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swarmcore/config.toml"
	}
	return filepath.Join(home, ".swarmcore", "config.toml")
}
