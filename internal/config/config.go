// Package config loads roomcast settings from defaults, an optional YAML
// file and ROOMCAST_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"roomcast/internal/logging"
	dbconfig "roomcast/pkg/database"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ROOMCAST_"

	// ConfigFileEnvVar names the optional YAML config file.
	ConfigFileEnvVar = "ROOMCAST_CONFIG_FILE"
)

// Config is the complete server configuration.
type Config struct {
	HTTP     HTTPConfig      `koanf:"http"`
	Database dbconfig.Config `koanf:"database"`
	Stream   StreamConfig    `koanf:"stream"`
	Messages MessagesConfig  `koanf:"messages"`
	Logging  LoggingConfig   `koanf:"logging"`
}

// HTTPConfig controls the listener and CORS.
type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// StreamConfig controls live delivery. Streams are exempt from WriteTimeout
// above; each frame is bounded by Stream.WriteTimeout instead.
type StreamConfig struct {
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`
	PingInterval      time.Duration `koanf:"ping_interval"`
	SendBuffer        int           `koanf:"send_buffer"`
	PresenceEvents    bool          `koanf:"presence_events"`
	// ConnectsPerMinute caps new stream subscriptions per client IP; 0 disables it.
	ConnectsPerMinute int `koanf:"connects_per_minute"`
}

// MessagesConfig controls message intake and history reads.
type MessagesConfig struct {
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
	RateLimitBurst     int `koanf:"rate_limit_burst"`
	HistoryLimit       int `koanf:"history_limit"`
	HistoryMaxLimit    int `koanf:"history_max_limit"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: *dbconfig.DefaultConfig(),
		Stream: StreamConfig{
			WriteTimeout:      10 * time.Second,
			KeepaliveInterval: 0,
			PingInterval:      30 * time.Second,
			SendBuffer:        100,
			PresenceEvents:    true,
			ConnectsPerMinute: 120,
		},
		Messages: MessagesConfig{
			RateLimitPerMinute: 100,
			RateLimitBurst:     20,
			HistoryLimit:       50,
			HistoryMaxLimit:    200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout < 0 {
		return errors.New("HTTP write timeout cannot be negative")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Stream.WriteTimeout < 0 {
		return errors.New("stream write timeout cannot be negative")
	}
	if c.Stream.KeepaliveInterval < 0 {
		return errors.New("stream keepalive interval cannot be negative")
	}
	if c.Stream.PingInterval <= 0 {
		return errors.New("stream ping interval must be positive")
	}
	if c.Stream.SendBuffer <= 0 {
		return errors.New("stream send buffer must be positive")
	}
	if c.Stream.ConnectsPerMinute < 0 {
		return errors.New("stream connects per minute cannot be negative")
	}

	if c.Messages.RateLimitPerMinute < 0 {
		return errors.New("message rate limit cannot be negative")
	}
	if c.Messages.RateLimitPerMinute > 0 && c.Messages.RateLimitBurst <= 0 {
		return errors.New("message rate limit burst must be positive")
	}
	if c.Messages.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	if c.Messages.HistoryMaxLimit < c.Messages.HistoryLimit {
		return errors.New("history max limit must be at least the default history limit")
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (c *Config) Address() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// LogConfig converts to the logging package's configuration.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Caller: c.Logging.Caller,
		Output: os.Stderr,
	}
}

// LoadFromEnv loads defaults overridden by environment variables.
func LoadFromEnv() (*Config, error) {
	return load("", true)
}

// LoadFromFile loads defaults overridden by the YAML file at path.
func LoadFromFile(path string) (*Config, error) {
	return load(path, false)
}

// LoadConfigWithPrecedence loads defaults, then the file at path (if not
// empty), then environment variables. If path is empty, ROOMCAST_CONFIG_FILE
// is consulted.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
		if err := processSliceFields(k); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var configSections = []string{"http", "database", "stream", "messages", "logging"}

// envTransformFunc maps ROOMCAST_HTTP_READ_TIMEOUT to http.read_timeout.
// Variables outside a known section are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config_file" {
		return ""
	}
	for _, section := range configSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}

var sliceConfigPaths = []string{"http.cors_origins"}

// processSliceFields splits comma-separated env values for slice settings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
