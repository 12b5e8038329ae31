package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// SCRIPTDECK_BACKEND_BASE_URL.
const EnvPrefix = "SCRIPTDECK"

// Config represents the complete scriptdeck configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Instance InstanceConfig `mapstructure:"instance"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig points at the script backend HTTP API.
type BackendConfig struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api
	BaseURL string `mapstructure:"base_url"`
	// RequestTimeoutMs bounds each unary request (run, stop, listings)
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
}

// StreamConfig controls the live event stream connection.
type StreamConfig struct {
	// URL is the WebSocket root that run ids are appended to.
	// Empty derives it from backend.base_url (http://h/api -> ws://h/ws/logs).
	URL string `mapstructure:"url"`
	// HandshakeTimeoutMs bounds the WebSocket dial
	HandshakeTimeoutMs int `mapstructure:"handshake_timeout_ms"`
	// ReadLimitBytes caps a single inbound frame; 0 means no limit
	ReadLimitBytes int64 `mapstructure:"read_limit_bytes"`
}

// InstanceConfig controls per-instance state kept by the registry.
type InstanceConfig struct {
	// MaxLogEntries bounds each instance's log; oldest entries are evicted.
	// 0 keeps everything.
	MaxLogEntries int `mapstructure:"max_log_entries"`
}

// ConsoleConfig controls the interactive terminal console.
type ConsoleConfig struct {
	// Theme is the color theme
	// Options: "default", "dracula", "nord", "solarized-light"
	Theme string `mapstructure:"theme"`
	// ThemeFile is an optional YAML theme that overrides Theme
	ThemeFile string `mapstructure:"theme_file"`
	// SidebarWidth is the instance list width in columns (min: 20, max: 60)
	SidebarWidth int `mapstructure:"sidebar_width"`
	// ShowTimestamps prefixes each log line with its receive time
	ShowTimestamps bool `mapstructure:"show_timestamps"`
	// FollowOutput keeps the log view pinned to the newest line
	FollowOutput bool `mapstructure:"follow_output"`
}

// JournalConfig controls the on-disk run history.
type JournalConfig struct {
	// Enabled records runs and their events in a SQLite database
	Enabled bool `mapstructure:"enabled"`
	// Path is the database file; empty means {config dir}/history.db
	Path string `mapstructure:"path"`
}

// LoggingConfig controls diagnostic logging.
type LoggingConfig struct {
	// Enabled writes logs under Dir; disabled discards them
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty means {config dir}/logs
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files are kept
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:          "http://localhost:8080/api",
			RequestTimeoutMs: 10000,
		},
		Stream: StreamConfig{
			HandshakeTimeoutMs: 10000,
			ReadLimitBytes:     1 << 20,
		},
		Instance: InstanceConfig{
			MaxLogEntries: 5000,
		},
		Console: ConsoleConfig{
			Theme:          "default",
			SidebarWidth:   32,
			ShowTimestamps: true,
			FollowOutput:   true,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// RequestTimeout returns the unary request timeout.
func (c *BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// HandshakeTimeout returns the stream dial timeout.
func (c *StreamConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// ResolveURL returns the stream root, deriving it from the API base when
// unset: the scheme flips to ws/wss and a trailing /api becomes /ws/logs.
func (c *StreamConfig) ResolveURL(apiBase string) string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	u := strings.TrimRight(apiBase, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u = strings.TrimSuffix(u, "/api")
	return u + "/ws/logs"
}

// ResolvePath returns the journal database path.
func (c *JournalConfig) ResolvePath() string {
	if c.Path != "" {
		return expandHome(c.Path)
	}
	return filepath.Join(ConfigDir(), "history.db")
}

// ResolveDir returns the log directory.
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return expandHome(c.Dir)
	}
	return filepath.Join(ConfigDir(), "logs")
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Backend defaults
	viper.SetDefault("backend.base_url", defaults.Backend.BaseURL)
	viper.SetDefault("backend.request_timeout_ms", defaults.Backend.RequestTimeoutMs)

	// Stream defaults
	viper.SetDefault("stream.url", defaults.Stream.URL)
	viper.SetDefault("stream.handshake_timeout_ms", defaults.Stream.HandshakeTimeoutMs)
	viper.SetDefault("stream.read_limit_bytes", defaults.Stream.ReadLimitBytes)

	// Instance defaults
	viper.SetDefault("instance.max_log_entries", defaults.Instance.MaxLogEntries)

	// Console defaults
	viper.SetDefault("console.theme", defaults.Console.Theme)
	viper.SetDefault("console.theme_file", defaults.Console.ThemeFile)
	viper.SetDefault("console.sidebar_width", defaults.Console.SidebarWidth)
	viper.SetDefault("console.show_timestamps", defaults.Console.ShowTimestamps)
	viper.SetDefault("console.follow_output", defaults.Console.FollowOutput)

	// Journal defaults
	viper.SetDefault("journal.enabled", defaults.Journal.Enabled)
	viper.SetDefault("journal.path", defaults.Journal.Path)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded values do not validate.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "scriptdeck")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scriptdeck"
	}
	return filepath.Join(home, ".config", "scriptdeck")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
