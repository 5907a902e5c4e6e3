// Package config loads service settings from defaults, the environment and
// an optional config file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	dbconfig "mobidoc/pkg/database"
)

// EnvPrefix prefixes every environment variable, e.g. MOBIDOC_HTTP_PORT.
const EnvPrefix = "mobidoc"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// ARCHITECTURAL DISCOVERY: One struct carries both tag sets so the env and
// file loaders can never drift apart on field names. Leaf fields use
// split_words rather than explicit names, which envconfig would also look up
// unprefixed (PATH, PORT)
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database" envconfig:"DATABASE"`
	HTTP         HTTPConfig         `mapstructure:"http" envconfig:"HTTP"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket" envconfig:"WEBSOCKET"`
	Auth         AuthConfig         `mapstructure:"auth" envconfig:"AUTH"`
	Store        StoreConfig        `mapstructure:"store" envconfig:"STORE"`
	Redis        RedisConfig        `mapstructure:"redis" envconfig:"REDIS"`
	Consultation ConsultationConfig `mapstructure:"consultation" envconfig:"CONSULTATION"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" envconfig:"RATE_LIMIT"`
	Log          LogConfig          `mapstructure:"log" envconfig:"LOG"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path" split_words:"true"`
	MaxConnections int           `mapstructure:"max_connections" split_words:"true"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout" split_words:"true"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" split_words:"true"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host" split_words:"true"`
	Port         int           `mapstructure:"port" split_words:"true"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" split_words:"true"`
	CORSOrigin   string        `mapstructure:"cors_origin" split_words:"true"`
}

// WebSocketConfig bounds every real-time connection.
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval" split_words:"true"`
	PongWait       time.Duration `mapstructure:"pong_wait" split_words:"true"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" split_words:"true"`
	BufferSize     int           `mapstructure:"buffer_size" split_words:"true"`
	MaxMessageSize int64         `mapstructure:"max_message_size" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret" split_words:"true"`
	AccessTTL       time.Duration `mapstructure:"access_ttl" split_words:"true"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl" split_words:"true"`
	ProfileCacheTTL time.Duration `mapstructure:"profile_cache_ttl" split_words:"true"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver" split_words:"true"`
	MongoURI      string `mapstructure:"mongo_uri" split_words:"true"`
	MongoDatabase string `mapstructure:"mongo_database" split_words:"true"`
}

// RedisConfig enables domain event publishing when URL is set.
type RedisConfig struct {
	URL           string `mapstructure:"url" split_words:"true"`
	ChannelPrefix string `mapstructure:"channel_prefix" split_words:"true"`
	PoolSize      int    `mapstructure:"pool_size" split_words:"true"`
	MaxRetries    int    `mapstructure:"max_retries" split_words:"true"`
}

type ConsultationConfig struct {
	EnforceTransitions bool `mapstructure:"enforce_transitions" split_words:"true"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute" split_words:"true"`
	Burst     int `mapstructure:"burst" split_words:"true"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" split_words:"true"`
	Pretty bool   `mapstructure:"pretty" split_words:"true"`
}

func DefaultConfig() *Config {
	db := dbconfig.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Path:           db.Path,
			MaxConnections: db.MaxConnections,
			BusyTimeout:    db.BusyTimeout,
			WriteTimeout:   db.WriteTimeout,
		},
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigin:   "*",
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Auth: AuthConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			ProfileCacheTTL: time.Minute,
		},
		Store: StoreConfig{
			Driver:        DriverSQLite,
			MongoDatabase: "mobidoc",
		},
		Redis: RedisConfig{
			ChannelPrefix: "mobidoc.",
			PoolSize:      10,
			MaxRetries:    3,
		},
		Consultation: ConsultationConfig{
			EnforceTransitions: true,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 100,
			Burst:     20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth JWT secret is required")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}

	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.PongWait <= 0 || ws.WriteTimeout <= 0 {
		return errors.New("WebSocket timeouts must be positive")
	}
	// FUNCTIONAL DISCOVERY: A ping interval at or above the pong wait would
	// let healthy idle clients time out between pings
	if ws.PingInterval >= ws.PongWait {
		return errors.New("WebSocket ping interval must be shorter than pong wait")
	}
	if ws.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if ws.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if err := c.StoreConfig().Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("store mongo_uri is required for the mongo driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limits cannot be negative")
	}
	if c.Redis.PoolSize < 0 || c.Redis.MaxRetries < 0 {
		return errors.New("redis pool size and retries cannot be negative")
	}
	return nil
}

// StoreConfig renders the SQLite store settings.
func (c *Config) StoreConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.Path = c.Database.Path
	db.MaxConnections = c.Database.MaxConnections
	db.BusyTimeout = c.Database.BusyTimeout
	db.WriteTimeout = c.Database.WriteTimeout
	return db
}

// Address is the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays MOBIDOC_* environment variables on the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// LoadFromFile overlays a JSON or YAML file on the defaults. Keys missing
// from the file keep their default.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence resolves defaults < environment < file, then
// validates the result. An empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
