package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all snipex configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Matcher MatcherConfig `yaml:"matcher"`
	Windows WindowsConfig `yaml:"windows"`
	Browser BrowserConfig `yaml:"browser"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the snippet key/value backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite
	Path    string `yaml:"path"`    // sync database file
	Driver  string `yaml:"driver"`  // sqlite3 (cgo), sqlite (pure Go)

	// LocalPath receives writes once the sync store reports quota exhaustion.
	LocalPath  string `yaml:"local_path"`
	QuotaBytes int    `yaml:"quota_bytes"`

	Watch bool `yaml:"watch"`
}

// MatcherConfig configures trigger matching.
type MatcherConfig struct {
	Policy string `yaml:"policy"` // first, longest
}

// WindowSize is a confirmation window's requested size in pixels.
type WindowSize struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// WindowsConfig sizes the confirmation windows.
type WindowsConfig struct {
	Audience  WindowSize `yaml:"audience"`
	Variables WindowSize `yaml:"variables"`
}

// BrowserConfig configures the rod-driven Chrome instance.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	StartURL            string   `yaml:"start_url"`
	NavigationTimeout   string   `yaml:"navigation_timeout"`
	InputPollIntervalMs int      `yaml:"input_poll_interval_ms"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    "sqlite",
			Path:       filepath.Join(".snipex", "snippets.db"),
			Driver:     "sqlite3",
			LocalPath:  filepath.Join(".snipex", "snippets_local.db"),
			QuotaBytes: 102400,
			Watch:      true,
		},
		Matcher: MatcherConfig{
			Policy: "first",
		},
		Windows: WindowsConfig{
			Audience:  WindowSize{Width: 640, Height: 520},
			Variables: WindowSize{Width: 560, Height: 420},
		},
		Browser: BrowserConfig{
			Headless:            false,
			NavigationTimeout:   "30s",
			InputPollIntervalMs: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SNIPEX_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SNIPEX_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("SNIPEX_MATCH_POLICY"); v != "" {
		c.Matcher.Policy = v
	}
	if v := os.Getenv("SNIPEX_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("SNIPEX_DEBUGGER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
}

// ValidBackends lists the supported store backends.
var ValidBackends = []string{"memory", "sqlite"}

// ValidDrivers lists the registered SQLite driver names.
var ValidDrivers = []string{"sqlite3", "sqlite"}

// ValidPolicies lists the supported trigger match policies.
var ValidPolicies = []string{"first", "longest"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidBackends)
	}
	if c.Store.Backend == "sqlite" {
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
		if !contains(ValidDrivers, c.Store.Driver) {
			return fmt.Errorf("invalid sqlite driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
		}
	}
	if c.Store.QuotaBytes < 0 {
		return fmt.Errorf("store.quota_bytes must not be negative")
	}
	if !contains(ValidPolicies, c.Matcher.Policy) {
		return fmt.Errorf("invalid matcher policy: %s (valid: %v)", c.Matcher.Policy, ValidPolicies)
	}
	for name, size := range map[string]WindowSize{"audience": c.Windows.Audience, "variables": c.Windows.Variables} {
		if size.Width <= 0 || size.Height <= 0 {
			return fmt.Errorf("windows.%s must have a positive size", name)
		}
	}
	if _, err := time.ParseDuration(c.Browser.NavigationTimeout); c.Browser.NavigationTimeout != "" && err != nil {
		return fmt.Errorf("invalid browser.navigation_timeout: %w", err)
	}
	return nil
}

// GetNavigationTimeout returns the browser navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ResolvePath anchors a relative store path at the workspace root.
func ResolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(workspace, p)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
