package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType names a lifecycle transition observed during a pass.
type EventType string

const (
	EventMarkedInactive    EventType = "marked_inactive"
	EventSuspensionTracked EventType = "suspension_tracked"
	EventSuspended         EventType = "suspended"
	EventDeleted           EventType = "deleted"
	EventRecovered         EventType = "recovered"
	EventPruned            EventType = "pruned"
	EventFailed            EventType = "failed"
)

// Event is one transition, exported to external analytics systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`
	ServerID   string    `json:"server_id"`
	ServerName string    `json:"server_name,omitempty"`
	DryRun     bool      `json:"dry_run"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder forwards events to a set of sinks. Delivery is best effort:
// failures are logged and never reach the caller.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{logger: logger.With("component", "history")}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record sends e to every sink. A nil Recorder discards events.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("history sink failed", "type", e.Type, "server_id", e.ServerID, "error", err)
		}
	}
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
