// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and persists the client configuration from
// ~/.wakili/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
)

// ======
// CONFIGURATION TYPES
// ======

// Config is the top-level client configuration.
type Config struct {
	API   APIConfig   `toml:"api"`
	Chat  ChatConfig  `toml:"chat"`
	UI    UIConfig    `toml:"ui"`
	Debug DebugConfig `toml:"debug"`
}

// APIConfig configures the backend connection.
type APIConfig struct {
	// BaseURL of the Wakili backend. WAKILI_API_URL overrides it.
	BaseURL string `toml:"base_url"`
	// TimeoutSeconds bounds non-streaming requests.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// ChatConfig configures query behavior.
type ChatConfig struct {
	// Language for new conversations and queries ("en" or "sw").
	Language string `toml:"language"`
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	Theme          string `toml:"theme"`
	ShowTimestamps bool   `toml:"show_timestamps"`
}

// DebugConfig configures diagnostics.
type DebugConfig struct {
	// Enabled writes a structured debug log to ~/.wakili/debug.log.
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.wakilimsomi.co.tz",
			TimeoutSeconds: 30,
		},
		Chat: ChatConfig{
			Language: "en",
		},
		UI: UIConfig{
			Theme:          "dark",
			ShowTimestamps: false,
		},
		Debug: DebugConfig{
			Enabled: false,
		},
	}
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Validate checks the configuration for values the client cannot use.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if _, err := language.Parse(c.Chat.Language); err != nil {
		return fmt.Errorf("chat.language %q is not a valid language tag: %w", c.Chat.Language, err)
	}
	return nil
}

// ======
// LOADING
// ======

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Dir returns the wakili state directory (~/.wakili), creating it if
// needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".wakili")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// Path returns the config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file, applying defaults for missing fields and
// the WAKILI_API_URL environment override. A missing file is not an
// error; defaults are returned.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if url := os.Getenv("WAKILI_API_URL"); url != "" {
		cfg.API.BaseURL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the default path.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SetGlobal installs cfg as the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// Global returns the process-wide configuration, loading it on first
// use.
func Global() *Config {
	globalMu.RLock()
	if globalConfig != nil {
		defer globalMu.RUnlock()
		return globalConfig
	}
	globalMu.RUnlock()

	cfg, err := Load()
	if err != nil {
		cfg = DefaultConfig()
	}
	SetGlobal(cfg)
	return cfg
}
