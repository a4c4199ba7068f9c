package store

import (
	"log/slog"
	"time"
)

// Config represents configuration for the different store types
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "file", "sqlite", "postgres", "bolt", "redis"

	// file, sqlite and bolt
	Path string `toml:"path" mapstructure:"path"`

	// postgres and redis
	DSN string `toml:"dsn" mapstructure:"dsn"`

	// Redis hash key or SQL table name
	Key string `toml:"key" mapstructure:"key"`

	// Connection pooling for SQL backends
	MaxOpenConns int           `toml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age" mapstructure:"conn_max_age"`

	// Optional logger for corrupt-content warnings
	Logger *slog.Logger `toml:"-" mapstructure:"-"`
}

// Default names used when Config.Key is empty.
const (
	DefaultFilePath = "server_state.json"
	DefaultTable    = "server_state"
	DefaultRedisKey = "panelsweep:state"
)

// TableOrDefault returns the configured table/hash name.
func (c Config) TableOrDefault(def string) string {
	if c.Key != "" {
		return c.Key
	}
	return def
}

// LoggerOrDefault returns the configured logger or slog's default.
func (c Config) LoggerOrDefault() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
