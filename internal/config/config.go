package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"pacts/internal/logging"
)

// Config holds all PACTS configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Browser BrowserConfig `yaml:"browser"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Heal    HealConfig    `yaml:"heal"`
	Profile ProfileConfig `yaml:"profile"`

	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the Driver (internal/browser).
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	StorageStatePath    string   `yaml:"storage_state_path"`

	FingerprintMitigations bool `yaml:"fingerprint_mitigations"`
}

// StoreConfig configures the sqlite persistence layer (internal/store).
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// CacheConfig configures the dual-tier selector cache (internal/cache).
type CacheConfig struct {
	MemoryCapacity int `yaml:"memory_capacity"`
}

// HealConfig configures OracleHealer (internal/healer).
type HealConfig struct {
	MaxHealRounds int `yaml:"max_heal_rounds"`
}

// ProfileConfig lets an operator force STATIC/DYNAMIC instead of relying on
// auto-detection (spec.md §4.6).
type ProfileConfig struct {
	Override string `yaml:"override"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "pacts",
		Version: "0.1.0",

		Browser: BrowserConfig{
			Headless:            true,
			ViewportWidth:       1280,
			ViewportHeight:      960,
			NavigationTimeoutMs: 30000,
		},

		Store: StoreConfig{
			DatabasePath: "data/pacts.db",
		},

		Cache: CacheConfig{
			MemoryCapacity: 2000,
		},

		Heal: HealConfig{
			MaxHealRounds: 3,
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if the
// file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.ConfigDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Config("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.ConfigWarn("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.ConfigWarn("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Config("config loaded: db=%s headless=%v", cfg.Store.DatabasePath, cfg.Browser.Headless)
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies environment variable overrides, the highest
// layer of the config precedence stack (flag > env > file > default).
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("PACTS_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if v := os.Getenv("PACTS_HEADLESS"); v != "" {
		c.Browser.Headless = v != "false" && v != "0"
	}
	if path := os.Getenv("PACTS_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if path := os.Getenv("PACTS_STORAGE_STATE"); path != "" {
		c.Browser.StorageStatePath = path
	}
	if v := os.Getenv("PACTS_MAX_HEAL_ROUNDS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.Heal.MaxHealRounds = n
		}
	}
	if v := os.Getenv("PACTS_PROFILE"); v != "" {
		c.Profile.Override = v
	}
	if v := os.Getenv("PACTS_DEBUG"); v != "" {
		c.Logging.DebugMode = v != "false" && v != "0"
	}
}

func parseIntEnv(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}

// NavigationTimeout returns Browser.NavigationTimeoutMs as a Duration.
func (c *Config) NavigationTimeout() time.Duration {
	if c.Browser.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Browser.NavigationTimeoutMs) * time.Millisecond
}
