// Package config provides YAML-based configuration loading for herdsman.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the host application
	AppName string `mapstructure:"app_name"`

	// DataDir base directory for persistent data
	DataDir string `mapstructure:"data_dir"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Adapter configures the coordinator link
	Adapter AdapterConfig `mapstructure:"adapter"`

	// Store configures device registry persistence
	Store StoreConfig `mapstructure:"store"`

	// Gateway configures the HTTP API
	Gateway GatewayConfig `mapstructure:"gateway"`

	// Net holds network tuning options
	Net NetConfig `mapstructure:"net"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "herdsman",
		DataDir: "./data",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/herdsman.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Adapter: AdapterConfig{
			Link:             "tcp",
			Addr:             "127.0.0.1:7554",
			Name:             "herdsman",
			ControlFormat:    "cbor",
			RequestTimeoutMS: 10000,
		},
		Store:   StoreConfig{Backend: "file"},
		Gateway: GatewayConfig{Listen: "127.0.0.1:8790"},
		Net:     NetConfig{DialBackoffInitialMS: 500, DialBackoffMaxMS: 30000},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix HERDSMAN and `.`/`-` are replaced
// with `_`. Example: HERDSMAN_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HERDSMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("adapter.link", cfg.Adapter.Link)
	v.SetDefault("adapter.addr", cfg.Adapter.Addr)
	v.SetDefault("adapter.name", cfg.Adapter.Name)
	v.SetDefault("adapter.control_format", cfg.Adapter.ControlFormat)
	v.SetDefault("adapter.request_timeout_ms", cfg.Adapter.RequestTimeoutMS)
	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("gateway.listen", cfg.Gateway.Listen)
	v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("HERDSMAN_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `herdsman`
		v.SetConfigName("herdsman")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".herdsman"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validLogLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// SetLogLevel overrides the configured log level, holding it to the same
// values the config file accepts.
func (c *Config) SetLogLevel(level string) error {
	if !validLogLevel(level) {
		return fmt.Errorf("invalid log level: %q", level)
	}
	c.Log.Level = level
	return nil
}

func (c *Config) validate() error {
	if !validLogLevel(c.Log.Level) {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Adapter.Link = strings.ToLower(strings.TrimSpace(c.Adapter.Link))
	switch c.Adapter.Link {
	case "tcp", "quic", "mem", "winpipe":
		// ok
	default:
		return fmt.Errorf("invalid adapter.link: %q", c.Adapter.Link)
	}
	c.Adapter.ControlFormat = strings.ToLower(strings.TrimSpace(c.Adapter.ControlFormat))
	switch c.Adapter.ControlFormat {
	case "", "cbor", "json":
		// ok
	default:
		return fmt.Errorf("invalid adapter.control_format: %q", c.Adapter.ControlFormat)
	}
	if c.Adapter.RequestTimeoutMS <= 0 {
		c.Adapter.RequestTimeoutMS = 10000
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "file", "sqlite":
		// ok
	default:
		return fmt.Errorf("invalid store.backend: %q", c.Store.Backend)
	}
	if c.Store.Path == "" {
		name := "devices.cbor"
		if c.Store.Backend == "sqlite" {
			name = "devices.db"
		}
		c.Store.Path = filepath.Join(c.DataDir, name)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
