// Package config loads mini-xpc settings from a file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Endpoint EndpointConfig `mapstructure:"endpoint"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig describes the listener.
type ServerConfig struct {
	// Network is "tcp" or "unix". Descriptors only travel over "unix".
	Network         string        `mapstructure:"network"`
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EndpointConfig tunes every endpoint the server or client creates.
type EndpointConfig struct {
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	OutboxSize  int           `mapstructure:"outbox_size"`

	// Handler middleware. Zero values leave the middleware out.
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	LogRequests    bool          `mapstructure:"log_requests"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Namespace string `mapstructure:"namespace"`
	// Address serves /metrics over HTTP when set, e.g. ":9100".
	Address string `mapstructure:"address"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/mini-xpc.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Network:         "unix",
			Address:         filepath.Join(os.TempDir(), "mini-xpc.sock"),
			ShutdownTimeout: 5 * time.Second,
		},
		Endpoint: EndpointConfig{
			Heartbeat:   30 * time.Second,
			IdleTimeout: 90 * time.Second,
			OutboxSize:  64,
			RetryDelay:  50 * time.Millisecond,
			LogRequests: true,
		},
		Metrics: MetricsConfig{Namespace: "xpc"},
	}
}

// Load reads configuration from path, or from mini-xpc.{yaml,toml,json} in
// the usual places when path is empty. A missing file is not an error.
// Environment variables override both, with the prefix MINIXPC and `.`
// replaced by `_`, e.g. MINIXPC_SERVER_ADDRESS.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("MINIXPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("MINIXPC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mini-xpc")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mini-xpc"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so that environment-only settings are picked up.
func setDefaults(v *viper.Viper, cfg *Config) {
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

	v.SetDefault("server.network", cfg.Server.Network)
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("endpoint.heartbeat", cfg.Endpoint.Heartbeat)
	v.SetDefault("endpoint.idle_timeout", cfg.Endpoint.IdleTimeout)
	v.SetDefault("endpoint.outbox_size", cfg.Endpoint.OutboxSize)
	v.SetDefault("endpoint.handler_timeout", cfg.Endpoint.HandlerTimeout)
	v.SetDefault("endpoint.rate_limit", cfg.Endpoint.RateLimit)
	v.SetDefault("endpoint.rate_burst", cfg.Endpoint.RateBurst)
	v.SetDefault("endpoint.retries", cfg.Endpoint.Retries)
	v.SetDefault("endpoint.retry_delay", cfg.Endpoint.RetryDelay)
	v.SetDefault("endpoint.log_requests", cfg.Endpoint.LogRequests)

	v.SetDefault("metrics.enable", cfg.Metrics.Enable)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	c.Server.Network = strings.ToLower(strings.TrimSpace(c.Server.Network))
	switch c.Server.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("invalid server.network: %q", c.Server.Network)
	}
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}

	e := c.Endpoint
	if e.Heartbeat < 0 || e.IdleTimeout < 0 || e.HandlerTimeout < 0 || e.RetryDelay < 0 {
		return errors.New("endpoint durations must not be negative")
	}
	if e.IdleTimeout > 0 && e.Heartbeat > 0 && e.IdleTimeout <= e.Heartbeat {
		return fmt.Errorf("endpoint.idle_timeout (%v) must exceed endpoint.heartbeat (%v)", e.IdleTimeout, e.Heartbeat)
	}
	if e.OutboxSize <= 0 {
		c.Endpoint.OutboxSize = 64
	}
	if e.RateLimit < 0 || e.RateBurst < 0 || e.Retries < 0 {
		return errors.New("endpoint.rate_limit, rate_burst and retries must not be negative")
	}
	if e.RateLimit > 0 && e.RateBurst == 0 {
		c.Endpoint.RateBurst = int(e.RateLimit) + 1
	}
	return nil
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
