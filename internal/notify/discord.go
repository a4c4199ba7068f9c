package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
)

// DiscordConfig configures the webhook transport.
type DiscordConfig struct {
	WebhookURL string        `toml:"webhook_url" mapstructure:"webhook_url"`
	RoleID     string        `toml:"role_id" mapstructure:"role_id"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
	Attempts   uint          `toml:"attempts" mapstructure:"attempts"`

	Logger *slog.Logger `toml:"-" mapstructure:"-"`
}

// Discord posts one embed per message to a webhook.
type Discord struct {
	url      string
	roleID   string
	attempts uint
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewDiscord(config DiscordConfig) (*Discord, error) {
	u := strings.TrimSpace(config.WebhookURL)
	if u == "" {
		return nil, errors.New("discord webhook url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Attempts == 0 {
		config.Attempts = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		url:      u,
		roleID:   strings.TrimSpace(config.RoleID),
		attempts: config.Attempts,
		client:   &http.Client{Timeout: config.Timeout},
		logger:   logger.With("component", "notify"),
		now:      time.Now,
	}, nil
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

func (d *Discord) payload(m Message) webhookPayload {
	color := m.Color
	if color == 0 {
		color = ColorAlert
	}
	p := webhookPayload{Embeds: []embed{{
		Title:       m.Title,
		Description: m.Body,
		Color:       color,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}}}
	if m.Ping && d.roleID != "" {
		p.Content = "<@&" + d.roleID + ">"
	}
	return p
}

// Notify delivers m, retrying transport errors, 429 and 5xx responses.
func (d *Discord) Notify(ctx context.Context, m Message) error {
	body, err := json.Marshal(d.payload(m))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, errPermanent) }),
	)
	err = r.Do(func() error { return d.post(ctx, body) })
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

var errPermanent = errors.New("webhook rejected message")

func (d *Discord) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return fmt.Errorf("%w: status %d: %s", errPermanent, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
