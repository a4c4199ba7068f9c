// Package notify delivers human-readable run reports.
package notify

import (
	"context"
	"log/slog"
)

// Embed colors used by the sweeper.
const (
	ColorInfo    = 3447003  // run started
	ColorSummary = 10181046 // run finished
	ColorAlert   = 15158332 // run aborted
)

// Message is one notification. Ping asks the transport to mention the
// configured audience.
type Message struct {
	Title string
	Body  string
	Color int
	Ping  bool
}

// Notifier is fire-and-forget: callers log the error and move on.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Nop discards messages.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Log writes messages to a logger. Used when no webhook is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, m Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "title", m.Title, "body", m.Body)
	return nil
}
