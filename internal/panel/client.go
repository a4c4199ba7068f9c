package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const serversPath = "/api/application/servers"

// maxBody caps how much of a response body is read.
const maxBody = 8 << 20

// Client talks to the panel application API. Every request waits on a shared
// rate limiter and runs inside a circuit breaker.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker
	attempts uint
	logger   *slog.Logger
}

// New creates a panel API client.
func New(config Config) (*Client, error) {
	config = config.withDefaults()
	base := strings.TrimRight(strings.TrimSpace(config.URL), "/")
	if base == "" {
		return nil, errors.New("panel url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid panel url: %w", err)
	}
	logger := config.Logger.With("component", "panel")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "panel-api",
		MaxRequests: 1,
		Timeout:     config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		baseURL:  base,
		apiKey:   config.APIKey,
		http:     &http.Client{Timeout: config.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		cb:       cb,
		attempts: config.ListAttempts,
		logger:   logger,
	}, nil
}

type response struct {
	status int
	body   []byte
}

// do sends one request. Transport errors and 5xx responses count against the
// breaker; any other status is returned to the caller to judge.
func (c *Client) do(ctx context.Context, method, path string) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, fmt.Errorf("rate limit wait: %w", err)
	}
	out, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, err
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return response{}, fmt.Errorf("read response: %w", err)
		}
		r := response{status: resp.StatusCode, body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		return response{}, err
	}
	return out.(response), nil
}

// ListServers returns every server across all pages. Any failing page fails
// the whole listing.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var servers []Server
	for page := 1; ; page++ {
		lr, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, d := range lr.Data {
			srv := d.Attributes.server()
			if srv.ID == "" {
				c.logger.Warn("skipping server without id", "page", page, "name", srv.Name)
				continue
			}
			servers = append(servers, srv)
		}
		// the requested page bounds the loop for panels that ignore ?page
		p := lr.Meta.Pagination
		if p == nil || p.CurrentPage >= p.TotalPages || page >= p.TotalPages {
			break
		}
	}
	c.logger.Debug("listed servers", "count", len(servers))
	return servers, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) (listResponse, error) {
	var lr listResponse
	path := fmt.Sprintf("%s?page=%d", serversPath, page)
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	err := r.Do(func() error {
		resp, err := c.do(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if resp.status != http.StatusOK {
			return fmt.Errorf("%w: list page %d returned %d", ErrUnexpectedStatus, page, resp.status)
		}
		lr = listResponse{}
		if err := json.Unmarshal(resp.body, &lr); err != nil {
			return fmt.Errorf("decode page %d: %w", page, err)
		}
		return nil
	})
	if err != nil {
		return listResponse{}, fmt.Errorf("list servers: %w", err)
	}
	return lr, nil
}

func serverPath(id string) string {
	return serversPath + "/" + url.PathEscape(id)
}
