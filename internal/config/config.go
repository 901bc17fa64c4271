// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire service configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                string        `mapstructure:"host" yaml:"host"`
	Port                int           `mapstructure:"port" yaml:"port"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period" yaml:"shutdown_grace_period"`
	// MaxConns caps concurrently accepted TCP connections; zero disables the cap.
	MaxConns int `mapstructure:"max_conns" yaml:"max_conns"`
	// RequestsPerSecond enables a process-wide request rate limit when positive.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RequestBurst      int     `mapstructure:"request_burst" yaml:"request_burst"`
	// AllowedOrigins lists origins accepted for the event-feed WebSocket
	// upgrade. Empty means same-host only.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns the host:port pair the server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrowserConfig holds engine-level settings shared by every session.
type BrowserConfig struct {
	// AutoInstall downloads the driver and browser binaries at startup when
	// they are missing. Disable in environments that pre-bake the binaries.
	AutoInstall    bool          `mapstructure:"auto_install" yaml:"auto_install"`
	InstallTimeout time.Duration `mapstructure:"install_timeout" yaml:"install_timeout"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	SlowMo         time.Duration `mapstructure:"slow_mo" yaml:"slow_mo"`
	// Args are appended to the engine's default launch arguments.
	Args []string `mapstructure:"args" yaml:"args"`
}

// SessionConfig governs session lifecycle and action execution.
type SessionConfig struct {
	// MaxSessions caps live sessions process-wide; zero means unlimited.
	MaxSessions       int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// DrainTimeout bounds how long close waits for an in-flight action.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	// IdleTimeout reaps sessions with no action for this long; zero disables.
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
	// EventBuffer sizes each lifecycle subscriber's channel.
	EventBuffer int              `mapstructure:"event_buffer" yaml:"event_buffer"`
	Screenshot  ScreenshotConfig `mapstructure:"screenshot" yaml:"screenshot"`
}

// Supported screenshot encodings.
const (
	ScreenshotFormatPNG  = "png"
	ScreenshotFormatJPEG = "jpeg"
)

// ScreenshotConfig controls the per-action capture.
type ScreenshotConfig struct {
	Format   string `mapstructure:"format" yaml:"format"` // png or jpeg
	Quality  int    `mapstructure:"quality" yaml:"quality"`
	FullPage bool   `mapstructure:"full_page" yaml:"full_page"`
}

// JournalConfig controls the write-only action audit trail.
type JournalConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	URL            string        `mapstructure:"url" yaml:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "forceps")
	v.SetDefault("logger.log_file", "forceps.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8077)
	v.SetDefault("server.read_timeout", "30s")
	// Write timeout is generous because every action response carries a
	// base64 screenshot.
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_grace_period", "15s")
	v.SetDefault("server.max_conns", 256)
	v.SetDefault("server.requests_per_second", 0)
	v.SetDefault("server.request_burst", 0)

	// -- Browser --
	v.SetDefault("browser.auto_install", true)
	v.SetDefault("browser.install_timeout", "5m")
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.slow_mo", "0s")

	// -- Session --
	v.SetDefault("session.max_sessions", 16)
	v.SetDefault("session.action_timeout", "30s")
	v.SetDefault("session.navigation_timeout", "60s")
	v.SetDefault("session.drain_timeout", "10s")
	v.SetDefault("session.idle_timeout", "0s")
	v.SetDefault("session.reap_interval", "1m")
	v.SetDefault("session.event_buffer", 64)
	v.SetDefault("session.screenshot.format", "png")
	v.SetDefault("session.screenshot.quality", 80)
	v.SetDefault("session.screenshot.full_page", false)

	// -- Journal --
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.connect_timeout", "5s")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("journal.url", "FORCEPS_JOURNAL_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}
	if c.Session.ActionTimeout <= 0 {
		return fmt.Errorf("session.action_timeout must be a positive duration")
	}
	if c.Session.NavigationTimeout <= 0 {
		return fmt.Errorf("session.navigation_timeout must be a positive duration")
	}
	if c.Session.DrainTimeout <= 0 {
		return fmt.Errorf("session.drain_timeout must be a positive duration")
	}
	if c.Session.IdleTimeout > 0 && c.Session.ReapInterval <= 0 {
		return fmt.Errorf("session.reap_interval must be a positive duration when idle_timeout is set")
	}
	if err := c.Session.Screenshot.Validate(); err != nil {
		return fmt.Errorf("session.screenshot configuration invalid: %w", err)
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the screenshot capture settings.
func (s *ScreenshotConfig) Validate() error {
	switch s.Format {
	case ScreenshotFormatPNG:
	case ScreenshotFormatJPEG:
		if s.Quality < 1 || s.Quality > 100 {
			return fmt.Errorf("quality must be between 1 and 100 for jpeg")
		}
	default:
		return fmt.Errorf("format must be png or jpeg, got %q", s.Format)
	}
	return nil
}

// Validate checks the journal settings.
func (j *JournalConfig) Validate() error {
	if !j.Enabled {
		return nil
	}
	if j.URL == "" {
		return fmt.Errorf("url is required when the journal is enabled. Set journal.url or FORCEPS_JOURNAL_URL")
	}
	if j.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be a positive duration")
	}
	return nil
}

// New returns a configuration populated with defaults only. Used by tests
// and by callers that configure programmatically.
func New() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults are static; failing to load them is a programming error.
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}
