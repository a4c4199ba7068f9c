package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/loykin/panelsweep/internal/activity"
	"github.com/loykin/panelsweep/internal/logger"
	"github.com/loykin/panelsweep/internal/notify"
	"github.com/loykin/panelsweep/internal/panel"
	"github.com/loykin/panelsweep/internal/store"
	"github.com/loykin/panelsweep/internal/tls"
)

// EnvPrefix prefixes environment overrides: PANELSWEEP_PANEL_API_KEY
// overrides panel.api_key.
const EnvPrefix = "PANELSWEEP"

// Config represents the top-level TOML structure.
type Config struct {
	// .env files loaded into the process environment before overrides apply
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`

	Panel    panel.Config         `toml:"panel" mapstructure:"panel"`
	Activity activity.Config      `toml:"activity" mapstructure:"activity"`
	Policy   PolicyConfig         `toml:"policy" mapstructure:"policy"`
	Schedule ScheduleConfig       `toml:"schedule" mapstructure:"schedule"`
	State    store.Config         `toml:"state" mapstructure:"state"`
	Discord  notify.DiscordConfig `toml:"discord" mapstructure:"discord"`
	History  HistoryConfig        `toml:"history" mapstructure:"history"`
	Log      logger.Config        `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig        `toml:"metrics" mapstructure:"metrics"`
	Server   ServerConfig         `toml:"server" mapstructure:"server"`
}

type PolicyConfig struct {
	InactiveDays              float64       `toml:"inactive_days" mapstructure:"inactive_days"`
	SuspendedDays             float64       `toml:"suspended_days" mapstructure:"suspended_days"`
	ProtectedKeywords         []string      `toml:"protected_keywords" mapstructure:"protected_keywords"`
	DryRun                    bool          `toml:"dry_run" mapstructure:"dry_run"`
	DeleteExternallySuspended bool          `toml:"delete_externally_suspended" mapstructure:"delete_externally_suspended"`
	PruneOrphans              bool          `toml:"prune_orphans" mapstructure:"prune_orphans"`
	CallTimeout               time.Duration `toml:"call_timeout" mapstructure:"call_timeout"`
}

// InactiveLimit converts InactiveDays to a duration.
func (p PolicyConfig) InactiveLimit() time.Duration { return days(p.InactiveDays) }

// SuspendedLimit converts SuspendedDays to a duration.
func (p PolicyConfig) SuspendedLimit() time.Duration { return days(p.SuspendedDays) }

func days(d float64) time.Duration { return time.Duration(d * float64(24*time.Hour)) }

type ScheduleConfig struct {
	Cron       string `toml:"cron" mapstructure:"cron"`
	TimeZone   string `toml:"time_zone" mapstructure:"time_zone"`
	RunOnStart bool   `toml:"run_on_start" mapstructure:"run_on_start"`
}

// Location resolves TimeZone; empty means UTC.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(s.TimeZone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.TimeZone)
}

type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"` // DSNs, see history/factory
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	// bearer token required by every endpoint except healthz; empty disables
	Token string     `toml:"token" mapstructure:"token"`
	TLS   tls.Config `toml:"tls" mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env_files", []string{})

	v.SetDefault("panel.url", "")
	v.SetDefault("panel.api_key", "")
	v.SetDefault("panel.timeout", panel.DefaultTimeout)
	v.SetDefault("panel.requests_per_second", panel.DefaultRequestsPerSecond)
	v.SetDefault("panel.burst", panel.DefaultBurst)
	v.SetDefault("panel.list_attempts", panel.DefaultListAttempts)
	v.SetDefault("panel.breaker_failures", panel.DefaultBreakerFailures)
	v.SetDefault("panel.breaker_cooldown", panel.DefaultBreakerCooldown)

	v.SetDefault("activity.dsn", "")
	v.SetDefault("activity.host", "")
	v.SetDefault("activity.port", 3306)
	v.SetDefault("activity.user", "")
	v.SetDefault("activity.password", "")
	v.SetDefault("activity.database", "")
	v.SetDefault("activity.max_open_conns", 4)
	v.SetDefault("activity.conn_max_age", 5*time.Minute)

	v.SetDefault("policy.inactive_days", 2)
	v.SetDefault("policy.suspended_days", 2)
	v.SetDefault("policy.protected_keywords", []string{})
	v.SetDefault("policy.dry_run", true)
	v.SetDefault("policy.delete_externally_suspended", true)
	v.SetDefault("policy.prune_orphans", true)
	v.SetDefault("policy.call_timeout", 15*time.Second)

	v.SetDefault("schedule.cron", "@weekly")
	v.SetDefault("schedule.time_zone", "UTC")
	v.SetDefault("schedule.run_on_start", false)

	v.SetDefault("state.type", "file")
	v.SetDefault("state.path", store.DefaultFilePath)
	v.SetDefault("state.dsn", "")
	v.SetDefault("state.key", "")

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.role_id", "")
	v.SetDefault("discord.timeout", 10*time.Second)
	v.SetDefault("discord.attempts", 3)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.token", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.dns_names", []string{})
	v.SetDefault("server.tls.min_version", "")
}

// Load reads the TOML file at path (optional; "" uses defaults only), loads
// the listed .env files and applies PANELSWEEP_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	base := "."
	if path != "" {
		base = filepath.Dir(path)
	}
	for _, f := range v.GetStringSlice("env_files") {
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		if err := applyEnvFile(f); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	return &c, nil
}

func (c *Config) normalize() {
	kws := c.Policy.ProtectedKeywords[:0]
	for _, k := range c.Policy.ProtectedKeywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}
	c.Policy.ProtectedKeywords = kws
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	if c.Server.BasePath == "/" {
		c.Server.BasePath = ""
	}
}

// Validate reports every configuration problem at once. Any error is fatal
// at startup.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if u, err := url.ParseRequestURI(c.Panel.URL); err != nil || u.Host == "" {
		add("panel.url must be an absolute URL, got %q", c.Panel.URL)
	}
	if strings.TrimSpace(c.Panel.APIKey) == "" {
		add("panel.api_key is required")
	}
	if strings.TrimSpace(c.Activity.DSN) == "" && strings.TrimSpace(c.Activity.Host) == "" {
		add("activity.dsn or activity.host is required")
	}
	if c.Policy.InactiveDays <= 0 {
		add("policy.inactive_days must be > 0")
	}
	if c.Policy.SuspendedDays <= 0 {
		add("policy.suspended_days must be > 0")
	}
	if c.Policy.CallTimeout < 0 {
		add("policy.call_timeout must not be negative")
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		add("schedule.cron %q: %v", c.Schedule.Cron, err)
	}
	if _, err := c.Schedule.Location(); err != nil {
		add("schedule.time_zone %q: %v", c.Schedule.TimeZone, err)
	}
	switch strings.ToLower(c.State.Type) {
	case "", "file", "json", "sqlite", "bolt":
		if strings.TrimSpace(c.State.Path) == "" {
			add("state.path is required for state.type %q", c.State.Type)
		}
	case "postgres", "postgresql", "redis":
		if strings.TrimSpace(c.State.DSN) == "" {
			add("state.dsn is required for state.type %q", c.State.Type)
		}
	default:
		add("unknown state.type %q", c.State.Type)
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		add("history.sinks must list at least one DSN when history is enabled")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		add("metrics.listen is required when metrics are enabled")
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		add("server.listen is required when the API server is enabled")
	}
	if t := c.Server.TLS; t.Enabled {
		if (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
			add("server.tls needs cert_file and key_file, or dir")
		}
		if !tls.ValidVersion(t.MinVersion) {
			add("server.tls.min_version %q must be 1.2 or 1.3", t.MinVersion)
		}
	}
	return errors.Join(errs...)
}

// applyEnvFile sets variables from a .env file that are not already set.
func applyEnvFile(path string) error {
	m, err := loadEnvFile(path)
	if err != nil {
		return err
	}
	for k, v := range m {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines. Lines starting
// with # are ignored, an "export " prefix and matching quotes are stripped.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
				v = v[1 : len(v)-1]
			}
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}
