package panel

import (
	"errors"
	"log/slog"
	"strconv"
	"time"
)

// Server is one entry of the panel's server listing.
type Server struct {
	ID        string `json:"id"`
	UUID      string `json:"uuid,omitempty"`
	Name      string `json:"name"`
	Suspended bool   `json:"suspended"`
}

// ErrUnexpectedStatus is wrapped by every error caused by an HTTP status the
// panel API contract does not allow for that call.
var ErrUnexpectedStatus = errors.New("unexpected panel response status")

// Config holds connection settings for the panel application API.
type Config struct {
	URL    string `toml:"url" mapstructure:"url"`
	APIKey string `toml:"api_key" mapstructure:"api_key"`

	// Per-request HTTP timeout
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`

	// Token bucket shared by every panel call
	RequestsPerSecond float64 `toml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `toml:"burst" mapstructure:"burst"`

	// Attempts per listing page (GET only; actions are never retried)
	ListAttempts uint `toml:"list_attempts" mapstructure:"list_attempts"`

	// Consecutive failures that open the breaker, and how long it stays open
	BreakerFailures uint32        `toml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown" mapstructure:"breaker_cooldown"`

	Logger *slog.Logger `toml:"-" mapstructure:"-"`
}

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 5
	DefaultListAttempts      = 2
	DefaultBreakerFailures   = 5
	DefaultBreakerCooldown   = time.Minute
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.ListAttempts == 0 {
		c.ListAttempts = DefaultListAttempts
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// wire format of /api/application/servers
type listResponse struct {
	Data []struct {
		Attributes serverAttributes `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Pagination *struct {
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

type serverAttributes struct {
	ID          flexID  `json:"id"`
	UUID        string  `json:"uuid"`
	Name        string  `json:"name"`
	Suspended   *bool   `json:"suspended"`
	IsSuspended *bool   `json:"is_suspended"`
	Status      *string `json:"status"`
}

func (a serverAttributes) server() Server {
	suspended := (a.Suspended != nil && *a.Suspended) ||
		(a.IsSuspended != nil && *a.IsSuspended) ||
		(a.Status != nil && *a.Status == "suspended")
	return Server{ID: string(a.ID), UUID: a.UUID, Name: a.Name, Suspended: suspended}
}

// flexID accepts both numeric and string ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return err
	}
	*f = flexID(b)
	return nil
}
