package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// CurrentUser is the id of the signed-in user whose collections the
	// daemon syncs.
	CurrentUser string `toml:"current_user"`
	AI          AI     `toml:"ai"`
}

// AI configures the gateway backend.
type AI struct {
	BaseURL string `toml:"base_url"`
	// APIKeyEnv names the environment variable holding the gateway key, so
	// the key itself never lands in the config file.
	APIKeyEnv         string `toml:"api_key_env"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	MaxConcurrent     int64  `toml:"max_concurrent"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxAttempts       int    `toml:"max_attempts"`
}

// APIKey resolves the gateway key from the configured environment variable.
func (a AI) APIKey() string {
	if a.APIKeyEnv == "" {
		return os.Getenv("DMSYNC_AI_KEY")
	}
	return os.Getenv(a.APIKeyEnv)
}

// Load reads config from the given path. Returns zero config and error if
// file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
